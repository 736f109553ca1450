// Package journal implements Kairoi's append-only write-ahead log: the
// durable record of every state transition the Database Engine applies.
//
// Wire format (version 1, magic "KRJ1"):
//
//	file   := magic(4) version(1) record*
//	record := length(4, big-endian uint32) payload(length bytes)
//	payload := tag(1) fields...
//
// tag 0x01 JobUpserted:      identifier(str) execution(int64) status(1) last_transition(int64)
// tag 0x02 JobStatusChanged: identifier(str) status(1) last_transition(int64)
// tag 0x03 JobRemoved:       identifier(str)
// tag 0x04 RuleUpserted:     identifier(str) pattern(str) runner_kind(1) argc(1) args(str*)
// tag 0x05 RuleRemoved:      identifier(str)
//
// str := len(2, big-endian uint16) utf8 bytes
package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/emerick42/kairoi/internal/domain"
)

// Magic and Version identify the on-disk format. A reader that sees a
// different version must fail the startup fatally rather than guess.
var Magic = [4]byte{'K', 'R', 'J', '1'}

const Version byte = 0x01

type Tag byte

const (
	TagJobUpserted      Tag = 0x01
	TagJobStatusChanged Tag = 0x02
	TagJobRemoved       Tag = 0x03
	TagRuleUpserted     Tag = 0x04
	TagRuleRemoved      Tag = 0x05
)

// Record is a tagged union over the five transition kinds the journal
// can durably record. Exactly one of the typed fields is meaningful,
// selected by Tag.
type Record struct {
	Tag Tag

	JobIdentifier  string
	JobExecution   time.Time
	JobStatus      domain.Status
	LastTransition time.Time

	RuleIdentifier string
	RulePattern    string
	RunnerKind     domain.RunnerKind
	RunnerArgs     []string
}

func JobUpserted(j *domain.Job) Record {
	return Record{
		Tag:            TagJobUpserted,
		JobIdentifier:  j.Identifier,
		JobExecution:   j.Execution,
		JobStatus:      j.Status,
		LastTransition: j.LastTransition,
	}
}

func JobStatusChanged(identifier string, status domain.Status, at time.Time) Record {
	return Record{
		Tag:            TagJobStatusChanged,
		JobIdentifier:  identifier,
		JobStatus:      status,
		LastTransition: at,
	}
}

func JobRemoved(identifier string) Record {
	return Record{Tag: TagJobRemoved, JobIdentifier: identifier}
}

func RuleUpserted(r *domain.Rule) Record {
	return Record{
		Tag:            TagRuleUpserted,
		RuleIdentifier: r.Identifier,
		RulePattern:    r.Pattern,
		RunnerKind:     r.RunnerKind,
		RunnerArgs:     r.RunnerArguments,
	}
}

func RuleRemoved(identifier string) Record {
	return Record{Tag: TagRuleRemoved, RuleIdentifier: identifier}
}

// Encode appends the record's binary payload (without the length prefix)
// to buf and returns the extended slice.
func (r Record) Encode(buf []byte) []byte {
	buf = append(buf, byte(r.Tag))
	switch r.Tag {
	case TagJobUpserted:
		buf = putString(buf, r.JobIdentifier)
		buf = putInt64(buf, r.JobExecution.Unix())
		buf = append(buf, byte(r.JobStatus))
		buf = putInt64(buf, r.LastTransition.Unix())
	case TagJobStatusChanged:
		buf = putString(buf, r.JobIdentifier)
		buf = append(buf, byte(r.JobStatus))
		buf = putInt64(buf, r.LastTransition.Unix())
	case TagJobRemoved:
		buf = putString(buf, r.JobIdentifier)
	case TagRuleUpserted:
		buf = putString(buf, r.RuleIdentifier)
		buf = putString(buf, r.RulePattern)
		buf = append(buf, byte(r.RunnerKind))
		buf = append(buf, byte(len(r.RunnerArgs)))
		for _, a := range r.RunnerArgs {
			buf = putString(buf, a)
		}
	case TagRuleRemoved:
		buf = putString(buf, r.RuleIdentifier)
	}
	return buf
}

// Decode parses exactly one record's payload from buf. It must be called
// with the full, exact payload of one record (length already consumed).
func Decode(buf []byte) (Record, error) {
	if len(buf) < 1 {
		return Record{}, fmt.Errorf("journal: empty payload")
	}
	r := Record{Tag: Tag(buf[0])}
	rest := buf[1:]
	var err error
	switch r.Tag {
	case TagJobUpserted:
		var execUnix, lastUnix int64
		var status byte
		r.JobIdentifier, rest, err = getString(rest)
		if err != nil {
			return Record{}, err
		}
		execUnix, rest, err = getInt64(rest)
		if err != nil {
			return Record{}, err
		}
		status, rest, err = getByte(rest)
		if err != nil {
			return Record{}, err
		}
		lastUnix, rest, err = getInt64(rest)
		if err != nil {
			return Record{}, err
		}
		r.JobExecution = time.Unix(execUnix, 0).UTC()
		r.JobStatus = domain.Status(status)
		r.LastTransition = time.Unix(lastUnix, 0).UTC()
	case TagJobStatusChanged:
		var lastUnix int64
		var status byte
		r.JobIdentifier, rest, err = getString(rest)
		if err != nil {
			return Record{}, err
		}
		status, rest, err = getByte(rest)
		if err != nil {
			return Record{}, err
		}
		lastUnix, rest, err = getInt64(rest)
		if err != nil {
			return Record{}, err
		}
		r.JobStatus = domain.Status(status)
		r.LastTransition = time.Unix(lastUnix, 0).UTC()
	case TagJobRemoved:
		r.JobIdentifier, rest, err = getString(rest)
		if err != nil {
			return Record{}, err
		}
	case TagRuleUpserted:
		var kind, argc byte
		r.RuleIdentifier, rest, err = getString(rest)
		if err != nil {
			return Record{}, err
		}
		r.RulePattern, rest, err = getString(rest)
		if err != nil {
			return Record{}, err
		}
		kind, rest, err = getByte(rest)
		if err != nil {
			return Record{}, err
		}
		argc, rest, err = getByte(rest)
		if err != nil {
			return Record{}, err
		}
		r.RunnerKind = domain.RunnerKind(kind)
		r.RunnerArgs = make([]string, 0, argc)
		for i := 0; i < int(argc); i++ {
			var a string
			a, rest, err = getString(rest)
			if err != nil {
				return Record{}, err
			}
			r.RunnerArgs = append(r.RunnerArgs, a)
		}
	case TagRuleRemoved:
		r.RuleIdentifier, rest, err = getString(rest)
		if err != nil {
			return Record{}, err
		}
	default:
		return Record{}, fmt.Errorf("journal: unknown record tag %#x", r.Tag)
	}
	_ = rest
	return r, nil
}

func putString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, io.ErrUnexpectedEOF
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, io.ErrUnexpectedEOF
	}
	return string(buf[:n]), buf[n:], nil
}

func putInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func getInt64(buf []byte) (int64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return int64(binary.BigEndian.Uint64(buf)), buf[8:], nil
}

func getByte(buf []byte) (byte, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return buf[0], buf[1:], nil
}

// header returns the 5-byte magic+version preamble written once at the
// start of a fresh journal file.
func header() []byte {
	var b bytes.Buffer
	b.Write(Magic[:])
	b.WriteByte(Version)
	return b.Bytes()
}
