package arq

import "strings"

const (
	DefaultNamespace = "arq"
	separator        = ":"
)

// Namespace derives every key and channel a queue uses from one prefix.
// Wrap the prefix in braces, e.g. "{arq}", to keep all keys of a queue in
// one Redis Cluster slot.
type Namespace struct {
	name string
}

func NewNamespace(name string) Namespace {
	if name == "" {
		name = DefaultNamespace
	}
	return Namespace{name: name}
}

func (ns Namespace) Name() string {
	return ns.name
}

// Key joins parts under the namespace.
func (ns Namespace) Key(parts ...string) string {
	return ns.KeyFrom("", parts...)
}

// KeyFrom joins parts under base, or under the namespace when base is empty.
func (ns Namespace) KeyFrom(base string, parts ...string) string {
	if base == "" {
		base = ns.name
	}
	return strings.Join(append([]string{base}, parts...), separator)
}

// Pending is the sorted set of task ids waiting to be dequeued.
func (ns Namespace) Pending() string {
	return ns.Key("pending")
}

func (ns Namespace) Payload(id string) string {
	return ns.KeyFrom(ns.Key("payload"), id)
}

// PayloadPrefix is Payload without the id, for scripts that build the key.
func (ns Namespace) PayloadPrefix() string {
	return ns.Key("payload") + separator
}

// Result is the pub/sub channel a task's reply is published on.
func (ns Namespace) Result(id string) string {
	return ns.KeyFrom(ns.Key("result"), id)
}

func (ns Namespace) Status(id string) string {
	return ns.KeyFrom(ns.Key("status"), id)
}

func (ns Namespace) Liveness(role, hostIP string) string {
	return ns.Key(role, hostIP)
}
