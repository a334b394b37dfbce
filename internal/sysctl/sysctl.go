// Package sysctl implements the "*"-prefixed system and metadata commands
// (spec §4.9): *IDN?, *ECHO, *BLOCKS?, *DESC.*, *CHANGES[.group]?,
// *CAPTURE?/=/.LABELS?, *PCAP.ARM/DISARM/STATUS?, *METADATA.*. It also owns
// arm/disarm coordination between the command protocol and the data
// protocol, since both need a consistent view of "is there a live capture
// session, and which one".
package sysctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/panda-fpga/pandad/internal/busstate"
	"github.com/panda-fpga/pandad/internal/capture"
	"github.com/panda-fpga/pandad/internal/cmdserver"
	"github.com/panda-fpga/pandad/internal/entity"
	"github.com/panda-fpga/pandad/internal/hwaccess"
	"github.com/panda-fpga/pandad/internal/logx"
	"github.com/panda-fpga/pandad/internal/perr"
)

var log = logx.For("sysctl")

const idnString = "PandA FPGA Controller (pandad)"

// Metadata is a user-settable string bucket, e.g. *METADATA.LABEL_xxx=...,
// independent of any block (spec §4.9).
type Metadata struct {
	mu   sync.RWMutex
	vals map[string]string
}

func NewMetadata() *Metadata { return &Metadata{vals: make(map[string]string)} }

func (m *Metadata) Get(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[name]
	return v, ok
}

func (m *Metadata) Set(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[name] = value
}

func (m *Metadata) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vals))
	for k := range m.vals {
		out = append(out, k)
	}
	return out
}

// Controller implements cmdserver.SystemDispatcher and owns the one
// outstanding capture session at a time.
type Controller struct {
	Entity     *entity.Entity
	Registry   *busstate.Registry
	Descs      map[string]string // "BLOCK" or "BLOCK.FIELD" -> description text
	Metadata   *Metadata
	HW         hwaccess.HardwareAccess
	BlockCount map[string]int // declaration order handled via Entity.BlockOrder

	mu      sync.Mutex
	cond    *sync.Cond
	session *capture.Session
	gen     uint64
	cancel  context.CancelFunc

	// watermarks holds the last-reported change index per group under a
	// token. changesResult always uses the token "default", so all
	// connections share one set; connections are not tracked separately.
	watermarks map[string]map[entity.ChangeGroup]uint64
	wmMu       sync.Mutex
}

// New builds a Controller, creating the condition variable WaitForSession
// waits on.
func New(ent *entity.Entity, reg *busstate.Registry, hw hwaccess.HardwareAccess) *Controller {
	c := &Controller{
		Entity:     ent,
		Registry:   reg,
		Descs:      make(map[string]string),
		Metadata:   NewMetadata(),
		HW:         hw,
		watermarks: make(map[string]map[entity.ChangeGroup]uint64),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Arm freezes the current registered-outputs snapshot, builds a plan, and
// starts a new capture session (spec §4.7 Arm). It is an error to arm while
// already armed.
func (c *Controller) Arm(ctx context.Context, process string) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return perr.New(perr.KindBusy, "capture already armed")
	}
	outputs := c.Registry.Snapshot()
	plan, err := capture.BuildPlan(outputs, process)
	if err != nil {
		c.mu.Unlock()
		return perr.Wrap(perr.KindValidation, err, "build capture plan")
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	session, err := capture.Arm(sessionCtx, c.HW, plan)
	if err != nil {
		cancel()
		c.mu.Unlock()
		return perr.Wrap(perr.KindHardware, err, "arm hardware")
	}
	c.session = session
	c.cancel = cancel
	c.gen++
	c.cond.Broadcast()
	c.mu.Unlock()
	log.Info("capture armed", "sample_bytes", plan.SampleBytes, "fields", len(plan.Fields))
	return nil
}

// Disarm ends the current session early, if any.
func (c *Controller) Disarm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Disarm(c.HW)
	if c.cancel != nil {
		c.cancel()
	}
	c.session = nil
	c.cond.Broadcast()
	log.Info("capture disarmed")
	return err
}

// clearFinishedLocked drops the current session once its reader goroutine
// has exited, so WaitForSession blocks for the *next* arm rather than
// immediately handing back a dead session forever.
func (c *Controller) clearFinishedLocked() {
	if c.session != nil {
		select {
		case <-c.session.DoneChan():
			c.session = nil
		default:
		}
	}
}

// WaitForSession blocks until a session newer than afterGen is armed, the
// context is cancelled, or (if already armed at a newer generation) returns
// immediately.
func (c *Controller) WaitForSession(ctx context.Context, afterGen uint64) (*capture.Session, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.gen <= afterGen {
		c.clearFinishedLocked()
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				c.mu.Lock()
				c.cond.Broadcast()
				c.mu.Unlock()
			case <-done:
			}
		}()
		c.cond.Wait()
		close(done)
		if ctx.Err() != nil {
			return nil, c.gen, ctx.Err()
		}
	}
	return c.session, c.gen, nil
}

// Dispatch implements cmdserver.SystemDispatcher.
func (c *Controller) Dispatch(line string) (cmdserver.SystemResult, error) {
	name, hasValue, value, isQuery := splitSystemLine(line)

	switch {
	case name == "*IDN":
		return valueResult(idnString, isQuery)
	case name == "*ECHO":
		if !hasValue {
			return cmdserver.SystemResult{}, perr.New(perr.KindParse, "*ECHO requires a value")
		}
		return cmdserver.SystemResult{Value: value}, nil
	case name == "*BLOCKS":
		return c.blocksResult()
	case strings.HasPrefix(name, "*DESC."):
		return c.descResult(strings.TrimPrefix(name, "*DESC."))
	case name == "*CHANGES" || strings.HasPrefix(name, "*CHANGES."):
		return c.changesResult(name)
	case name == "*CAPTURE":
		return c.captureResult(hasValue, value)
	case name == "*CAPTURE.LABELS":
		return c.captureLabels()
	case name == "*PCAP.ARM":
		return cmdserver.SystemResult{NoValue: true}, c.Arm(context.Background(), "Scaled")
	case name == "*PCAP.DISARM":
		return cmdserver.SystemResult{NoValue: true}, c.Disarm()
	case name == "*PCAP.STATUS":
		return c.pcapStatus()
	case strings.HasPrefix(name, "*METADATA."):
		return c.metadataResult(strings.TrimPrefix(name, "*METADATA."), hasValue, value)
	}
	return cmdserver.SystemResult{}, perr.New(perr.KindNotFound, "unknown system command %q", name)
}

func valueResult(v string, isQuery bool) (cmdserver.SystemResult, error) {
	if !isQuery {
		return cmdserver.SystemResult{}, perr.New(perr.KindInvalidValue, "read-only")
	}
	return cmdserver.SystemResult{Value: v}, nil
}

// splitSystemLine parses "*NAME[.NAME]*('?'|'='value)" into its parts.
func splitSystemLine(line string) (name string, hasValue bool, value string, isQuery bool) {
	if strings.HasSuffix(line, "?") {
		return line[:len(line)-1], false, "", true
	}
	if idx := strings.IndexByte(line, '='); idx >= 0 {
		return line[:idx], true, line[idx+1:], false
	}
	return line, false, "", false
}

func (c *Controller) blocksResult() (cmdserver.SystemResult, error) {
	var lines []string
	for _, name := range c.Entity.BlockOrder {
		b := c.Entity.Blocks[name]
		lines = append(lines, fmt.Sprintf("%s %d", b.Name, b.N))
	}
	return cmdserver.SystemResult{Lines: lines}, nil
}

func (c *Controller) descResult(rest string) (cmdserver.SystemResult, error) {
	rest = strings.TrimSuffix(rest, "?")
	d, ok := c.Descs[rest]
	if !ok {
		return cmdserver.SystemResult{}, perr.New(perr.KindNotFound, "no description for %q", rest)
	}
	return cmdserver.SystemResult{Value: d}, nil
}

func (c *Controller) changesResult(name string) (cmdserver.SystemResult, error) {
	name = strings.TrimSuffix(name, "?")
	groups := entity.AllGroups()
	if strings.HasPrefix(name, "*CHANGES.") {
		gname := strings.TrimPrefix(name, "*CHANGES.")
		g, ok := entity.ParseChangeGroup(gname)
		if !ok {
			return cmdserver.SystemResult{}, perr.New(perr.KindNotFound, "no such change group %q", gname)
		}
		groups = []entity.ChangeGroup{g}
	}

	const connToken = "default" // single shared watermark set; per-connection tokens are a future extension
	c.wmMu.Lock()
	wm, ok := c.watermarks[connToken]
	if !ok {
		wm = make(map[entity.ChangeGroup]uint64)
		c.watermarks[connToken] = wm
	}
	c.wmMu.Unlock()

	var lines []string
	for _, g := range groups {
		since := wm[g]
		entries, current := c.Entity.ChangesSince(g, since)
		for _, e := range entries {
			if e.IsMulti {
				lines = append(lines, e.Name+"<")
			} else {
				lines = append(lines, e.Name+"="+e.Value)
			}
		}
		c.wmMu.Lock()
		wm[g] = current
		c.wmMu.Unlock()
	}
	return cmdserver.SystemResult{Lines: lines}, nil
}

func (c *Controller) captureResult(hasValue bool, value string) (cmdserver.SystemResult, error) {
	if hasValue {
		if value != "" {
			return cmdserver.SystemResult{}, perr.New(perr.KindInvalidValue, "*CAPTURE= takes no value, use field.CAPTURE=")
		}
		c.Registry.Reset()
		return cmdserver.SystemResult{NoValue: true}, nil
	}
	var lines []string
	for _, out := range c.Registry.Snapshot() {
		lines = append(lines, out.Name)
	}
	return cmdserver.SystemResult{Lines: lines}, nil
}

func (c *Controller) captureLabels() (cmdserver.SystemResult, error) {
	var lines []string
	for _, out := range c.Registry.Snapshot() {
		lines = append(lines, out.Name+" "+out.Info.Mode.String())
	}
	return cmdserver.SystemResult{Lines: lines}, nil
}

func (c *Controller) pcapStatus() (cmdserver.SystemResult, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return cmdserver.SystemResult{Value: "Idle"}, nil
	}
	return cmdserver.SystemResult{Value: "Busy " + strconv.FormatInt(session.Samples(), 10)}, nil
}

func (c *Controller) metadataResult(rest string, hasValue bool, value string) (cmdserver.SystemResult, error) {
	rest = strings.TrimSuffix(rest, "?")
	if hasValue {
		c.Metadata.Set(rest, value)
		return cmdserver.SystemResult{NoValue: true}, nil
	}
	v, ok := c.Metadata.Get(rest)
	if !ok {
		return cmdserver.SystemResult{}, perr.New(perr.KindNotFound, "no metadata value %q", rest)
	}
	return cmdserver.SystemResult{Value: v}, nil
}
