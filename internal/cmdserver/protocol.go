package cmdserver

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/panda-fpga/pandad/internal/entity"
)

const maxLineBytes = 1 << 20 // generous bound for table-write payload lines

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 4096), maxLineBytes)
	writer := bufio.NewWriter(conn)

	for reader.Scan() {
		line := strings.TrimRight(reader.Text(), "\r")
		if line == "" {
			continue
		}

		var resp string
		if strings.HasPrefix(line, "*") {
			resp = s.dispatchSystem(line)
		} else {
			resp = s.dispatchEntity(line, reader)
		}

		if _, err := writer.WriteString(resp); err != nil {
			log.Error("write response", "err", err)
			return
		}
		if err := writer.Flush(); err != nil {
			log.Error("flush response", "err", err)
			return
		}
	}
}

func (s *Server) dispatchSystem(line string) string {
	res, err := s.System.Dispatch(line)
	if err != nil {
		return formatErr(err)
	}
	return formatResult(res)
}

func formatResult(res SystemResult) string {
	if res.Lines != nil {
		var sb strings.Builder
		for _, l := range res.Lines {
			sb.WriteByte('!')
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
		sb.WriteString(".\n")
		return sb.String()
	}
	if res.NoValue {
		return "OK\n"
	}
	return "OK =" + res.Value + "\n"
}

func formatErr(err error) string {
	msg := err.Error()
	msg = strings.ReplaceAll(msg, "\n", " ")
	return "ERR " + msg + "\n"
}

// requestKind identifies the trailing grammar token of one entity-form
// request line (spec §6's Entity production).
type requestKind int

const (
	reqRead requestKind = iota
	reqWrite
	reqTableReplace
	reqTableAppend
	reqTableBase64
	reqMalformed
)

// parseEntityLine splits one non-system line into its name and operator,
// per spec §6: `Entity ('?' | '=' Value | '<' [PayloadMode])`.
func parseEntityLine(line string) (name string, kind requestKind, value string) {
	switch {
	case strings.HasSuffix(line, "?"):
		return line[:len(line)-1], reqRead, ""
	case strings.HasSuffix(line, "<<"):
		return line[:len(line)-2], reqTableAppend, ""
	case strings.HasSuffix(line, "<B"):
		return line[:len(line)-2], reqTableBase64, ""
	case strings.HasSuffix(line, "<"):
		return line[:len(line)-1], reqTableReplace, ""
	}
	if idx := strings.IndexByte(line, '='); idx >= 0 {
		return line[:idx], reqWrite, line[idx+1:]
	}
	return "", reqMalformed, ""
}

func (s *Server) dispatchEntity(line string, reader *bufio.Scanner) string {
	return DispatchEntity(s.Entity, line, reader)
}

// DispatchEntity runs one non-system request line against ent, reading any
// table-write payload lines from reader. It is the "command-processing
// entry point" spec §4.8 replays persisted records through at startup, so
// it is exported for internal/persist to call directly without a socket.
func DispatchEntity(ent *entity.Entity, line string, reader *bufio.Scanner) string {
	name, kind, value := parseEntityLine(line)

	switch kind {
	case reqMalformed:
		return "ERR malformed request\n"

	case reqRead:
		return handleRead(ent, name)

	case reqWrite:
		return handleWrite(ent, name, value)

	case reqTableReplace, reqTableAppend, reqTableBase64:
		lines := readUntilBlank(reader)
		return handleTableWrite(ent, name, kind, lines)
	}
	return "ERR internal error\n"
}

func readUntilBlank(reader *bufio.Scanner) []string {
	var lines []string
	for reader.Scan() {
		l := strings.TrimRight(reader.Text(), "\r")
		if l == "" {
			break
		}
		lines = append(lines, l)
	}
	return lines
}

func handleRead(ent *entity.Entity, name string) string {
	res, err := ent.Resolve(name)
	if err != nil {
		return formatErr(err)
	}
	attr := res.Attribute
	if attr.GetMany != nil {
		lines, err := attr.GetMany(res.Instance)
		if err != nil {
			return formatErr(err)
		}
		return formatResult(SystemResult{Lines: lines})
	}
	if attr.Format == nil {
		return formatErr(fmt.Errorf("%s is not readable", name))
	}
	v, err := attr.Format(res.Instance)
	if err != nil {
		return formatErr(err)
	}
	return formatResult(SystemResult{Value: v})
}

func handleWrite(ent *entity.Entity, name, value string) string {
	res, err := ent.Resolve(name)
	if err != nil {
		return formatErr(err)
	}
	if res.Attribute.Put == nil {
		return formatErr(fmt.Errorf("%s is not writable", name))
	}
	if err := res.Attribute.Put(res.Instance, value); err != nil {
		return formatErr(err)
	}
	ent.Bump(res.Field, res.Instance, res.AttrName)
	return formatResult(SystemResult{NoValue: true})
}

// tableModeLabel is the sentinel the put closure (wired in internal/dbload
// from the hardware's short/long table protocol) reads as the first line of
// its payload to distinguish replace/append/base64 writes.
func tableModeLabel(kind requestKind) string {
	switch kind {
	case reqTableAppend:
		return "APPEND"
	case reqTableBase64:
		return "BASE64"
	default:
		return "REPLACE"
	}
}

func handleTableWrite(ent *entity.Entity, name string, kind requestKind, lines []string) string {
	res, err := ent.Resolve(name)
	if err != nil {
		return formatErr(err)
	}
	if res.Field.Class != entity.ClassTable {
		return formatErr(fmt.Errorf("%s is not a table field", name))
	}
	if res.Attribute.Put == nil {
		return formatErr(fmt.Errorf("%s has no table writer", name))
	}
	payload := tableModeLabel(kind) + "\n" + strings.Join(lines, "\n")
	if err := res.Attribute.Put(res.Instance, payload); err != nil {
		return formatErr(err)
	}
	ent.Bump(res.Field, res.Instance, res.AttrName)
	return formatResult(SystemResult{NoValue: true})
}
