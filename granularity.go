package pmem2

import (
	"fmt"
	"os"
	"strings"
)

// Granularity is the smallest unit of stores that becomes durable after
// a persist. Smaller values are stronger guarantees.
type Granularity int8

const (
	// GranularityUnset is the zero value; Map refuses configs that keep it.
	GranularityUnset Granularity = iota
	// GranularityByte: stores are durable once they leave the CPU; only a
	// fence is needed (eADR platforms).
	GranularityByte
	// GranularityCacheLine: cache lines must be flushed, then fenced.
	GranularityCacheLine
	// GranularityPage: the OS must write dirty pages back (msync).
	GranularityPage
)

// ForceGranularityEnv overrides the granularity the platform reports.
const ForceGranularityEnv = "PMEM2_FORCE_GRANULARITY"

func (g Granularity) String() string {
	switch g {
	case GranularityUnset:
		return "unset"
	case GranularityByte:
		return "byte"
	case GranularityCacheLine:
		return "cache_line"
	case GranularityPage:
		return "page"
	default:
		return fmt.Sprintf("granularity(%d)", int8(g))
	}
}

func (g Granularity) valid() bool {
	return g >= GranularityByte && g <= GranularityPage
}

// ParseGranularity parses BYTE, CACHE_LINE (or CACHELINE) and PAGE, ignoring case.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BYTE":
		return GranularityByte, nil
	case "CACHE_LINE", "CACHELINE":
		return GranularityCacheLine, nil
	case "PAGE":
		return GranularityPage, nil
	default:
		return GranularityUnset, fmt.Errorf("unknown granularity %q", s)
	}
}

// forcedGranularity reads ForceGranularityEnv. Malformed values are logged and
// ignored.
func forcedGranularity(l *Logger) (Granularity, bool) {
	v, ok := os.LookupEnv(ForceGranularityEnv)
	if !ok || v == "" {
		return GranularityUnset, false
	}
	g, err := ParseGranularity(v)
	if err != nil {
		l.Warn("ignoring malformed environment override", "variable", ForceGranularityEnv, "value", v)
		return GranularityUnset, false
	}
	l.LogGranularityOverride(g)
	return g, true
}

// granularityMessages[required-1][available-1]. Cells on or below the
// diagonal never produce an error.
var granularityMessages = [3][3]string{
	{
		"",
		"requested byte granularity not available because the platform does not persist CPU caches on power loss (no eADR)",
		"requested byte granularity not available because the mapped medium is not persistent memory",
	},
	{
		"",
		"",
		"requested cache line granularity not available because the mapped medium is not persistent memory",
	},
	{"", "", ""},
}

// Sharing selects between shared and private (copy-on-write) mappings.
type Sharing uint8

const (
	// Shared mappings write through to the source.
	Shared Sharing = iota
	// Private mappings are copy-on-write and never reach the source.
	Private
)

func (s Sharing) String() string {
	switch s {
	case Shared:
		return "shared"
	case Private:
		return "private"
	default:
		return fmt.Sprintf("sharing(%d)", uint8(s))
	}
}

// Decide picks the store granularity a mapping will actually get and checks
// it against the caller's requirement.
//
// Private mappings are never written back, so nothing beyond a fence is ever
// needed. Otherwise the environment override wins, then the medium
// (non-pmem means Page) and the platform (no eADR means CacheLine).
func Decide(required Granularity, isPmem, autoFlush bool, sharing Sharing) (Granularity, error) {
	return decide(required, isPmem, autoFlush, sharing, defaultLogger())
}

func decide(required Granularity, isPmem, autoFlush bool, sharing Sharing, l *Logger) (Granularity, error) {
	if !required.valid() {
		return GranularityUnset, ErrGranularityNotSet
	}

	var available Granularity
	switch {
	case sharing == Private:
		available = GranularityByte
	default:
		if g, ok := forcedGranularity(l); ok {
			available = g
		} else if !isPmem {
			available = GranularityPage
		} else if !autoFlush {
			available = GranularityCacheLine
		} else {
			available = GranularityByte
		}
	}

	if available <= required {
		return available, nil
	}

	msg := granularityMessages[required-1][available-1]
	if msg == "" {
		return GranularityUnset, invariant("no granularity message for required %s, available %s", required, available)
	}
	return GranularityUnset, &Error{Code: CodeGranularityNotSupported, Msg: msg}
}
