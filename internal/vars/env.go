package vars

import (
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"sync"
)

// Partition names one of the four strictly separated variable maps
type Partition string

const (
	Exercise Partition = "var"
	Input    Partition = "input"
	Meta     Partition = "meta"
	Check    Partition = "check"
)

// Partitions lists all partitions
var Partitions = []Partition{Exercise, Input, Meta, Check}

// NotDefinedError is returned when a lookup names an absent variable
type NotDefinedError struct {
	Name      string
	Partition Partition
}

func (e *NotDefinedError) Error() string {
	return fmt.Sprintf("variable %q not defined in %s partition", e.Name, e.Partition)
}

// Environment is the set of variables a stage is graded against
type Environment struct {
	mu    sync.RWMutex
	parts map[Partition]map[string]Value
}

// NewEnvironment returns an empty environment
func NewEnvironment() *Environment {
	e := &Environment{parts: make(map[Partition]map[string]Value, len(Partitions))}
	for _, p := range Partitions {
		e.parts[p] = make(map[string]Value)
	}
	return e
}

// Set stores a value in a partition
func (e *Environment) Set(p Partition, name string, v Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.parts[p]
	if !ok {
		panic(fmt.Sprintf("vars: unknown partition %q", p))
	}
	m[name] = v
}

// Lookup fetches a value, failing with *NotDefinedError when absent
func (e *Environment) Lookup(p Partition, name string) (Value, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.parts[p][name]
	if !ok {
		return Value{}, &NotDefinedError{Name: name, Partition: p}
	}
	return v, nil
}

// Delete removes a variable
func (e *Environment) Delete(p Partition, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.parts[p], name)
}

// Reset empties one partition, e.g. the input partition before a new
// submission is graded.
func (e *Environment) Reset(p Partition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parts[p] = make(map[string]Value)
}

// Snapshot returns a copy of one partition
func (e *Environment) Snapshot(p Partition) map[string]Value {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.parts[p])
}

// Restore replaces the content of the known partitions with parts.
// Unknown partitions are ignored.
func (e *Environment) Restore(parts map[Partition]map[string]Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range Partitions {
		e.parts[p] = maps.Clone(parts[p])
		if e.parts[p] == nil {
			e.parts[p] = make(map[string]Value)
		}
	}
}

// Clone returns a deep copy of the environment
func (e *Environment) Clone() *Environment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := &Environment{parts: make(map[Partition]map[string]Value, len(e.parts))}
	for p, m := range e.parts {
		c.parts[p] = maps.Clone(m)
	}
	return c
}

var placeholderRe = regexp.MustCompile(`\[(var|input|meta|check)=([^\]]+)\]`)

// Substitute replaces [var=x], [input=x], [meta=x] and [check=x] references
// in free-form text. Unresolved references are left unchanged and logged;
// this never fails.
func (e *Environment) Substitute(logger *slog.Logger, text string) string {
	if logger == nil {
		logger = slog.Default()
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(ref string) string {
		m := placeholderRe.FindStringSubmatch(ref)
		v, err := e.Lookup(Partition(m[1]), m[2])
		if err != nil {
			logger.Warn("unresolved variable reference in text", "ref", ref, "error", err)
			return ref
		}
		return v.String()
	})
}
