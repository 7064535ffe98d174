package log

import (
	"fmt"
	"log"
)

// KV is a helper type for structured logging fields usage.
type KV map[string]interface{}

// Logger is the interface that the loggers used by the operator will use.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	WithKV(KV) Logger
}

// Dummy logger doesn't log anything.
var Dummy = &dummy{}

type dummy struct{}

func (d *dummy) Infof(format string, args ...interface{})    {}
func (d *dummy) Warningf(format string, args ...interface{}) {}
func (d *dummy) Errorf(format string, args ...interface{})   {}
func (d *dummy) Debugf(format string, args ...interface{})   {}
func (d *dummy) WithKV(KV) Logger                            { return d }

// Std is a wrapper for the Go standard library logger.
type Std struct {
	// DebugMode will also log debug lines when enabled.
	DebugMode bool
	fields    KV
}

func (s *Std) logWithPrefix(prefix, format string, args ...interface{}) {
	format = fmt.Sprintf("%s %s %s", prefix, format, s.fieldsString())
	log.Printf(format, args...)
}

func (s *Std) fieldsString() string {
	kvs := ""
	for k, v := range s.fields {
		kvs = kvs + fmt.Sprintf("%s=%v ", k, v)
	}
	return kvs
}

func (s *Std) Infof(format string, args ...interface{}) {
	s.logWithPrefix("[INFO]", format, args...)
}
func (s *Std) Warningf(format string, args ...interface{}) {
	s.logWithPrefix("[WARN]", format, args...)
}
func (s *Std) Errorf(format string, args ...interface{}) {
	s.logWithPrefix("[ERROR]", format, args...)
}
func (s *Std) Debugf(format string, args ...interface{}) {
	if s.DebugMode {
		s.logWithPrefix("[DEBUG]", format, args...)
	}
}
func (s *Std) WithKV(kv KV) Logger {
	newKV := KV{}
	for k, v := range s.fields {
		newKV[k] = v
	}
	for k, v := range kv {
		newKV[k] = v
	}
	return &Std{DebugMode: s.DebugMode, fields: newKV}
}
