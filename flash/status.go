package flash

import "fmt"

// Status is a storage driver return code. Zero is success; the other
// values follow the FlexSPI NOR ROM API.
type Status uint32

const (
	StatusSuccess                  Status = 0
	StatusFail                     Status = 1
	StatusInvalidArgument          Status = 4
	StatusTimeout                  Status = 5
	StatusSequenceExecutionTimeout Status = 7000
	StatusInvalidSequence          Status = 7001
	StatusDeviceTimeout            Status = 7002
	StatusProgramFail              Status = 20100
	StatusEraseSectorFail          Status = 20101
	StatusEraseAllFail             Status = 20102
	StatusWaitTimeout              Status = 20103
	StatusNotSupported             Status = 20104
	StatusWriteAlignmentError      Status = 20105
	StatusCommandFailure           Status = 20106
	StatusSFDPNotFound             Status = 20107
	StatusFlashNotFound            Status = 20109
	StatusDTRReadDummyProbeFailed  Status = 20110
)

var statusNames = map[Status]string{
	StatusSuccess:                  "success",
	StatusFail:                     "fail",
	StatusInvalidArgument:          "invalid argument",
	StatusTimeout:                  "timeout",
	StatusSequenceExecutionTimeout: "flexspi sequence execution timeout",
	StatusInvalidSequence:          "flexspi invalid sequence",
	StatusDeviceTimeout:            "flexspi device timeout",
	StatusProgramFail:              "program fail",
	StatusEraseSectorFail:          "erase sector fail",
	StatusEraseAllFail:             "erase all fail",
	StatusWaitTimeout:              "wait timeout",
	StatusNotSupported:             "not supported",
	StatusWriteAlignmentError:      "write alignment error",
	StatusCommandFailure:           "command failure",
	StatusSFDPNotFound:             "SFDP not found",
	StatusFlashNotFound:            "flash not found",
	StatusDTRReadDummyProbeFailed:  "DTR read dummy probe failed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status %d", uint32(s))
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool {
	return s == StatusSuccess
}
