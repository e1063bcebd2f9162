package model

import (
	"sort"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// EmptyPayload is shown for absent payloads.
	EmptyPayload = "(empty)"
	// HexSuffix marks payloads kept as raw hex because they are not UTF-8 text.
	HexSuffix = " (hex)"
)

// Report is a computation report emitted by the dapp for one rollup input, with its
// payloads already in display form.
type Report struct {
	ID           string `json:"id"`
	InputIndex   uint64 `json:"input_index"`
	ReportIndex  uint64 `json:"report_index"`
	InputPayload string `json:"input_payload"`
	Payload      string `json:"payload"`
}

// ReportKey identifies a report within the dapp.
type ReportKey struct {
	InputIndex  uint64
	ReportIndex uint64
}

func (r Report) Key() ReportKey {
	return ReportKey{InputIndex: r.InputIndex, ReportIndex: r.ReportIndex}
}

// DisplayPayload converts a hex encoded payload into display text. It never fails:
// absent payloads become EmptyPayload and anything that is not valid hex encoded UTF-8
// is returned as the raw value tagged with HexSuffix.
func DisplayPayload(raw string) string {
	if raw == "" || raw == "0x" {
		return EmptyPayload
	}

	data, err := hexutil.Decode(raw)
	if err != nil {
		return raw + HexSuffix
	}
	if !utf8.Valid(data) {
		return raw + HexSuffix
	}
	return string(data)
}

// SortReports orders reports newest input first and, within an input, by descending
// report index. The sort is stable.
func SortReports(reports []Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].InputIndex != reports[j].InputIndex {
			return reports[i].InputIndex > reports[j].InputIndex
		}
		return reports[i].ReportIndex > reports[j].ReportIndex
	})
}
