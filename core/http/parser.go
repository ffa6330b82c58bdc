package http

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/indigo-web/utils/uf"

	"github.com/searchktools/evhttp/core"
	"github.com/searchktools/evhttp/core/pools"
)

var (
	ErrBadRequestLine    = errors.New("malformed request line")
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrUnsupportedProto  = errors.New("unsupported protocol version")
	ErrBadContentLength  = errors.New("invalid Content-Length")
	ErrRequestTooLarge   = errors.New("request exceeds the size limit")
)

// Phase is the part of the request the parser expects next.
type Phase uint8

const (
	PhaseLine Phase = iota
	PhaseHeaders
	PhaseBody
	PhaseDone
)

// Status is the result of feeding bytes to the parser.
type Status uint8

const (
	// StatusContinue means more bytes are needed.
	StatusContinue Status = iota
	// StatusDone means the request is complete.
	StatusDone
	// StatusError means the request is malformed.
	StatusError
	// StatusOversized means the request exceeded the size limit.
	StatusOversized
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	case StatusOversized:
		return "oversized"
	default:
		return "unknown"
	}
}

// Parser incrementally parses one HTTP/1.x request.
//
// Complete lines are consumed as they arrive and a trailing partial line
// stays buffered, so the outcome does not depend on how the input was
// split into chunks. Once the parser reports anything but StatusContinue
// the status is final and further input is ignored.
type Parser struct {
	req  *Request
	pool *pools.BytePool

	buf []byte
	// offset of the first unconsumed byte in buf
	off         int
	accumulated int
	max         int

	phase Phase
	// remaining Content-Length body bytes, -1 reads the body as one line
	bodyLen int
	status  Status
	err     error
}

// NewParser creates a parser filling req. maxSize <= 0 selects
// core.DefaultMaxRequestSize.
func NewParser(req *Request, pool *pools.BytePool, maxSize int) *Parser {
	if maxSize <= 0 {
		maxSize = core.DefaultMaxRequestSize
	}
	return &Parser{
		req:     req,
		pool:    pool,
		max:     maxSize,
		bodyLen: -1,
	}
}

// Phase returns the current phase.
func (p *Parser) Phase() Phase {
	return p.phase
}

// Err explains a StatusError or StatusOversized result.
func (p *Parser) Err() error {
	return p.err
}

// Feed appends chunk to the accumulated input and parses as far as it can.
func (p *Parser) Feed(chunk []byte) Status {
	if p.status != StatusContinue {
		return p.status
	}

	p.accumulated += len(chunk)
	if p.accumulated > p.max {
		return p.fail(StatusOversized, ErrRequestTooLarge)
	}
	p.append(chunk)

	for {
		if p.phase == PhaseBody && p.bodyLen >= 0 {
			return p.readBody()
		}

		i := bytes.IndexByte(p.buf[p.off:], '\n')
		if i < 0 {
			return StatusContinue
		}

		line := p.buf[p.off : p.off+i]
		p.off += i + 1
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		switch p.phase {
		case PhaseLine:
			// tolerate empty lines ahead of the request line
			if len(line) == 0 {
				continue
			}
			if err := p.parseRequestLine(uf.B2S(line)); err != nil {
				return p.fail(StatusError, err)
			}
			p.phase = PhaseHeaders

		case PhaseHeaders:
			if len(line) > 0 {
				p.parseHeader(uf.B2S(line))
				continue
			}
			if p.req.Method != MethodPost {
				return p.done()
			}
			if status := p.startBody(); status != StatusContinue {
				return status
			}

		case PhaseBody:
			p.req.Body = append(p.req.Body[:0], line...)
			parseForm(p.req.Form, string(line))
			return p.done()
		}
	}
}

// Release returns the accumulation buffer to the pool. The parser must not
// be fed afterwards.
func (p *Parser) Release() {
	if p.buf != nil {
		p.pool.Put(p.buf)
		p.buf = nil
	}
	p.off = 0
}

// append adds chunk to buf, dropping consumed bytes when it has to grow.
func (p *Parser) append(chunk []byte) {
	if p.buf == nil {
		p.buf = p.pool.Get(len(chunk))
	}

	if p.off == len(p.buf) {
		p.buf = p.buf[:0]
		p.off = 0
	}

	if pending := len(p.buf) - p.off; pending+len(chunk) > cap(p.buf) {
		grown := p.pool.Get(pending + len(chunk))
		grown = append(grown, p.buf[p.off:]...)
		p.pool.Put(p.buf)
		p.buf = grown
		p.off = 0
	}

	p.buf = append(p.buf, chunk...)
}

// parseRequestLine parses "METHOD target VERSION". line is only valid for
// the duration of the call.
func (p *Parser) parseRequestLine(line string) error {
	method, rest, ok := strings.Cut(line, " ")
	if !ok || method == "" {
		return ErrBadRequestLine
	}
	target, proto, ok := strings.Cut(rest, " ")
	if !ok || target == "" || proto == "" || strings.IndexByte(proto, ' ') >= 0 {
		return ErrBadRequestLine
	}

	switch proto {
	case HTTP10, HTTP11:
	default:
		return ErrUnsupportedProto
	}

	switch method {
	case MethodGet, MethodPost:
	default:
		return ErrUnsupportedMethod
	}

	p.req.Method = strings.Clone(method)
	p.req.Proto = strings.Clone(proto)
	p.req.RawTarget = strings.Clone(target)

	path, query := splitTarget(p.req.RawTarget)
	p.req.Path = path
	parseForm(p.req.Query, query)

	return nil
}

// parseHeader stores one "Name: value" field. Lines without a colon or
// with an empty name are skipped.
func (p *Parser) parseHeader(line string) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	p.req.Headers[strings.Clone(name)] = strings.Clone(strings.TrimSpace(value))
}

// startBody picks the body framing once the headers of a POST are complete.
func (p *Parser) startBody() Status {
	p.phase = PhaseBody

	raw, ok := p.req.Headers[core.HeaderContentLength]
	if !ok {
		p.bodyLen = -1
		return StatusContinue
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return p.fail(StatusError, ErrBadContentLength)
	}
	if n > p.max {
		return p.fail(StatusOversized, ErrRequestTooLarge)
	}
	if n == 0 {
		return p.done()
	}

	p.bodyLen = n
	return StatusContinue
}

func (p *Parser) readBody() Status {
	if len(p.buf)-p.off < p.bodyLen {
		return StatusContinue
	}

	body := p.buf[p.off : p.off+p.bodyLen]
	p.off += p.bodyLen

	p.req.Body = append(p.req.Body[:0], body...)
	parseForm(p.req.Form, string(body))
	return p.done()
}

func (p *Parser) done() Status {
	p.phase = PhaseDone
	p.status = StatusDone
	return StatusDone
}

func (p *Parser) fail(status Status, err error) Status {
	p.status = status
	p.err = err
	return status
}
