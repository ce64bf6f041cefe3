// Package guard enforces the default-deny policy for Telegram write
// requests. Requests are classified by MTProto method name prefix and
// write-classified calls are rejected unless the process is the action
// server running with an allowed write context.
package guard

import "strings"

// Kind is the request classification used by the write guard.
type Kind int

const (
	// KindRead covers query methods that never mutate remote state.
	KindRead Kind = iota
	// KindWrite covers mutating methods. Unrecognized prefixes fall
	// into this bucket so new API methods stay blocked until reviewed.
	KindWrite
)

// readPrefixes and writePrefixes match the method segment of a TL
// request name, for example "getHistory" out of "messages.getHistory".
// Read prefixes are checked first.
var readPrefixes = []string{
	"get",
	"check",
	"search",
	"resolve",
	"read",
	"fetch",
	"ping",
	"help",
}

var writePrefixes = []string{
	"send",
	"edit",
	"delete",
	"forward",
	"invite",
	"add",
	"join",
	"leave",
	"create",
	"update",
	"upload",
	"import",
	"export",
	"pin",
	"unpin",
	"set",
	"start",
	"stop",
	"save",
	"install",
	"uninstall",
	"report",
	"block",
	"unblock",
	"kick",
	"ban",
	"unban",
}

// Classify maps a TL request name such as "channels.inviteToChannel"
// to a read or write kind. The namespace is ignored; only the method
// segment is matched. Names matching neither table classify as write.
func Classify(name string) Kind {
	method := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		method = name[i+1:]
	}
	method = strings.ToLower(method)
	for _, prefix := range readPrefixes {
		if strings.HasPrefix(method, prefix) {
			return KindRead
		}
	}
	for _, prefix := range writePrefixes {
		if strings.HasPrefix(method, prefix) {
			return KindWrite
		}
	}
	// Unknown method names stay guarded.
	return KindWrite
}

// IsWrite reports whether the named request mutates remote state.
func IsWrite(name string) bool {
	return Classify(name) == KindWrite
}

// ContainsWrite reports whether any request in a batch is a write.
func ContainsWrite(names []string) bool {
	for _, name := range names {
		if IsWrite(name) {
			return true
		}
	}
	return false
}
