// Package protocol defines the messages exchanged with the front-end over the
// swiftSearch channel: command tags, inbound envelopes, outbound response
// envelopes and the typed payload of every command.
package protocol

// Channel is the name the host routes mediator traffic under. Every outbound
// frame carries it as the outer method.
const Channel = "swiftSearch"

// Method is a command or callback tag.
type Method string

// Command tags sent by the front-end.
const (
	MethodInitialSearch       Method = "initialSearch"
	MethodCheckDiskSpace      Method = "checkDiskSpace"
	MethodGetSearchUserConfig Method = "getSearchUserConfig"
	MethodUpdateUserConfig    Method = "updateUserConfig"
	MethodIndexBatch          Method = "indexBatch"
	MethodGetLatestTimestamp  Method = "getLatestTimestamp"
	MethodSearch              Method = "search"
	MethodEncryptIndex        Method = "encryptIndex"
	MethodRealTimeIndex       Method = "realTimeIndex"
	MethodDeleteRealTimeIndex Method = "deleteRealTimeIndex"
)

// Callback tags sent back to the front-end.
const (
	MethodCheckDiskSpaceCallback      Method = "checkDiskSpaceCallback"
	MethodGetSearchUserConfigCallback Method = "getSearchUserConfigCallback"
	MethodUpdateUserConfigCallback    Method = "updateUserConfigCallback"
	MethodIndexBatchCallback          Method = "indexBatchCallback"
	MethodGetLatestTimestampCallback  Method = "getLatestTimestampCallback"
	MethodSearchCallback              Method = "searchCallback"
	MethodEncryptIndexCallback        Method = "encryptIndexCallback"
)

var callbacks = map[Method]Method{
	MethodCheckDiskSpace:      MethodCheckDiskSpaceCallback,
	MethodGetSearchUserConfig: MethodGetSearchUserConfigCallback,
	MethodUpdateUserConfig:    MethodUpdateUserConfigCallback,
	MethodIndexBatch:          MethodIndexBatchCallback,
	MethodGetLatestTimestamp:  MethodGetLatestTimestampCallback,
	MethodSearch:              MethodSearchCallback,
	MethodEncryptIndex:        MethodEncryptIndexCallback,
}

// Commands that may run before the search engine is initialized.
// checkDiskSpaceCallback is listed because the front-end may echo it back.
var whitelist = map[Method]struct{}{
	MethodInitialSearch:          {},
	MethodCheckDiskSpace:         {},
	MethodCheckDiskSpaceCallback: {},
}

var known = map[Method]struct{}{
	MethodInitialSearch:          {},
	MethodCheckDiskSpace:         {},
	MethodCheckDiskSpaceCallback: {},
	MethodGetSearchUserConfig:    {},
	MethodUpdateUserConfig:       {},
	MethodIndexBatch:             {},
	MethodGetLatestTimestamp:     {},
	MethodSearch:                 {},
	MethodEncryptIndex:           {},
	MethodRealTimeIndex:          {},
	MethodDeleteRealTimeIndex:    {},
}

// Callback returns the reply tag paired with m. ok is false for commands
// that never reply.
func (m Method) Callback() (Method, bool) {
	cb, ok := callbacks[m]
	return cb, ok
}

// Whitelisted reports whether m may run while no engine is initialized.
func (m Method) Whitelisted() bool {
	_, ok := whitelist[m]
	return ok
}

// Known reports whether m is a command tag the mediator understands.
func (m Method) Known() bool {
	_, ok := known[m]
	return ok
}

func (m Method) String() string { return string(m) }
