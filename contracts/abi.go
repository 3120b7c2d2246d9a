package contracts

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// The ABI fragments below are the minimal slices this daemon actually
// calls or decodes; the full oracle/registry ABIs carry far more surface
// this daemon never touches.

const submitReportDataABI = `[{
	"name": "submitReportData",
	"type": "function",
	"inputs": [
		{"name": "data", "type": "tuple", "components": [
			{"name": "dataFormat", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		]},
		{"name": "contractVersion", "type": "uint256"}
	]
}]`

const submitExitRequestsDataABI = `[{
	"name": "submitExitRequestsData",
	"type": "function",
	"inputs": [
		{"name": "request", "type": "tuple", "components": [
			{"name": "dataFormat", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		]}
	]
}]`

const exitDataProcessingEventABI = `[{
	"name": "ExitDataProcessing",
	"type": "event",
	"inputs": [
		{"name": "dataFormat", "type": "uint256", "indexed": false},
		{"name": "data", "type": "bytes", "indexed": false}
	]
}]`

var (
	submitReportDataMethod      abi.Method
	submitExitRequestsDataMethod abi.Method
	exitDataProcessingEvent     abi.Event
)

func init() {
	reportABI, err := abi.JSON(strings.NewReader(submitReportDataABI))
	if err != nil {
		panic("contracts: invalid submitReportData ABI: " + err.Error())
	}
	submitReportDataMethod = reportABI.Methods["submitReportData"]

	exitReqABI, err := abi.JSON(strings.NewReader(submitExitRequestsDataABI))
	if err != nil {
		panic("contracts: invalid submitExitRequestsData ABI: " + err.Error())
	}
	submitExitRequestsDataMethod = exitReqABI.Methods["submitExitRequestsData"]

	eventABI, err := abi.JSON(strings.NewReader(exitDataProcessingEventABI))
	if err != nil {
		panic("contracts: invalid ExitDataProcessing ABI: " + err.Error())
	}
	exitDataProcessingEvent = eventABI.Events["ExitDataProcessing"]
}

// ExitReportPayload is the decoded { dataFormat, data } tuple carried by
// either submitReportData's inner reportData argument or
// submitExitRequestsData's request argument.
type ExitReportPayload struct {
	DataFormat uint64
	Data       []byte
}

// DecodeCalldata dispatches on the 4-byte selector: calldata carrying
// submitReportData's selector is decoded under that ABI, calldata carrying
// submitExitRequestsData's under that one. An unknown selector, or a decode
// failure under the matching ABI, returns an error so the caller can skip
// and log the transaction.
func DecodeCalldata(input []byte) (ExitReportPayload, error) {
	if len(input) < 4 {
		return ExitReportPayload{}, errUnrecognizedSelector
	}
	selector := input[:4]
	args := input[4:]

	if sameSelector(selector, submitReportDataMethod.ID) {
		if p, err := decodeReportTuple(submitReportDataMethod, args); err == nil {
			return p, nil
		}
	}
	if sameSelector(selector, submitExitRequestsDataMethod.ID) {
		if p, err := decodeReportTuple(submitExitRequestsDataMethod, args); err == nil {
			return p, nil
		}
	}
	// Selector didn't match either known method, or matched but failed to
	// decode under its own ABI: both are treated the same way by the
	// caller (skip and log), so a single sentinel error covers it.
	return ExitReportPayload{}, errUnrecognizedSelector
}

func decodeReportTuple(method abi.Method, args []byte) (ExitReportPayload, error) {
	values, err := method.Inputs.Unpack(args)
	if err != nil || len(values) == 0 {
		return ExitReportPayload{}, errUnrecognizedSelector
	}
	return extractReportPayload(values[0])
}

// extractReportPayload pulls DataFormat/Data out of the tuple value
// go-ethereum's abi package generates at runtime (an anonymous struct whose
// field names are the ABI component names, camel-cased). Reflection is
// used here because that generated type has no name this package can
// reference directly.
func extractReportPayload(tuple any) (ExitReportPayload, error) {
	v := reflect.ValueOf(tuple)
	if v.Kind() != reflect.Struct {
		return ExitReportPayload{}, fmt.Errorf("contracts: expected a tuple struct, got %T", tuple)
	}
	formatField := v.FieldByName("DataFormat")
	dataField := v.FieldByName("Data")
	if !formatField.IsValid() || !dataField.IsValid() {
		return ExitReportPayload{}, fmt.Errorf("contracts: tuple missing dataFormat/data fields")
	}
	bi, ok := formatField.Interface().(*big.Int)
	if !ok {
		return ExitReportPayload{}, fmt.Errorf("contracts: dataFormat field is not a *big.Int")
	}
	data, ok := dataField.Interface().([]byte)
	if !ok {
		return ExitReportPayload{}, fmt.Errorf("contracts: data field is not []byte")
	}
	return ExitReportPayload{DataFormat: bi.Uint64(), Data: data}, nil
}

func sameSelector(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// errUnrecognizedSelector is returned for calldata that matches neither
// known method selector, or matches one but fails to decode under it.
var errUnrecognizedSelector = unrecognizedSelectorError{}

type unrecognizedSelectorError struct{}

func (unrecognizedSelectorError) Error() string {
	return "contracts: calldata selector is neither submitReportData nor submitExitRequestsData"
}
