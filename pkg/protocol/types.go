package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Protocol constants
const (
	// Magic number for dialog datagrams ('CVDG')
	ProtocolMagic = 0x43564447

	// Protocol version
	ProtocolVersion = 0x0100 // v1.0

	// Header size
	HeaderSize = 12

	// Largest datagram expected in a trust establishment exchange
	MaxHandshakePacketSize = 2048

	// Largest datagram expected in a subscription exchange
	MaxSubscriptionPacketSize = 4096

	// Default provider service identifier for signed messages
	DefaultPSID uint32 = 0x2fe1
)

// Message types
const (
	// Trust establishment (0x00xx)
	MsgTypeServiceRequest  uint16 = 0x0001
	MsgTypeServiceResponse uint16 = 0x0002

	// Data subscription (0x01xx)
	MsgTypeDataSubscriptionRequest  uint16 = 0x0100
	MsgTypeDataSubscriptionCancel   uint16 = 0x0101
	MsgTypeDataSubscriptionResponse uint16 = 0x0102
)

// DialogID identifies which protocol exchange a message belongs to.
type DialogID uint8

const (
	DialogVehSitData               DialogID = 154
	DialogDataSubscription         DialogID = 155
	DialogAdvSitDataDep            DialogID = 156
	DialogAdvSitDatDist            DialogID = 157
	DialogReserved1                DialogID = 158
	DialogReserved2                DialogID = 159
	DialogObjReg                   DialogID = 160
	DialogObjDisc                  DialogID = 161
	DialogIntersectionSitDataDep   DialogID = 162
	DialogIntersectionSitDataQuery DialogID = 163
)

var dialogNames = map[DialogID]string{
	DialogVehSitData:               "vehSitData",
	DialogDataSubscription:         "dataSubscription",
	DialogAdvSitDataDep:            "advSitDataDep",
	DialogAdvSitDatDist:            "advSitDatDist",
	DialogReserved1:                "reserved1",
	DialogReserved2:                "reserved2",
	DialogObjReg:                   "objReg",
	DialogObjDisc:                  "objDisc",
	DialogIntersectionSitDataDep:   "intersectionSitDataDep",
	DialogIntersectionSitDataQuery: "intersectionSitDataQuery",
}

// String returns the dialog name, or the number for unknown dialogs
func (d DialogID) String() string {
	if name, ok := dialogNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dialog(%d)", uint8(d))
}

// Valid reports whether d is a known dialog
func (d DialogID) Valid() bool {
	_, ok := dialogNames[d]
	return ok
}

// ParseDialogID maps a dialog name to its id
func ParseDialogID(name string) (DialogID, error) {
	for id, n := range dialogNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown dialog id %q", name)
}

// SequenceID identifies the step inside a dialog.
type SequenceID uint8

const (
	SeqServiceRequest      SequenceID = 1
	SeqServiceResponse     SequenceID = 2
	SeqDataRequest         SequenceID = 3
	SeqDataConfirmation    SequenceID = 4
	SeqData                SequenceID = 5
	SeqAccept              SequenceID = 6
	SeqReceipt             SequenceID = 7
	SeqSubscriptionRequest SequenceID = 8
	SeqSubscriptionResp    SequenceID = 9
	SeqSubscriptionCancel  SequenceID = 10
)

// GroupID is the logical partition (tenant) carried on requests.
type GroupID uint32

// TemporaryID is the 32-bit request/subscription identifier.
type TemporaryID uint32

// VsmType is a bit in the vehicle situation data category mask.
type VsmType uint8

const (
	VsmFund    VsmType = 1
	VsmVehStat VsmType = 2
	VsmWeather VsmType = 4
	VsmEnv     VsmType = 8
	VsmElVeh   VsmType = 16

	VsmAll = VsmFund | VsmVehStat | VsmWeather | VsmEnv | VsmElVeh
)

// ValidVsmMask reports whether mask selects at least one known category and nothing else.
func ValidVsmMask(mask uint8) bool {
	return mask >= uint8(VsmFund) && mask <= uint8(VsmAll)
}

// VsmNames lists the category names contained in mask
func VsmNames(mask uint8) string {
	names := []string{}
	for _, t := range []struct {
		bit  VsmType
		name string
	}{{VsmFund, "fund"}, {VsmVehStat, "vehStat"}, {VsmWeather, "weather"}, {VsmEnv, "env"}, {VsmElVeh, "elVeh"}} {
		if mask&uint8(t.bit) != 0 {
			names = append(names, t.name)
		}
	}
	return strings.Join(names, ",")
}

// ===== HELPER FUNCTIONS =====

// ExpireInMinutes returns an absolute time n minutes from now, truncated to the minute
func ExpireInMinutes(n int) time.Time {
	return time.Now().UTC().Add(time.Duration(n) * time.Minute).Truncate(time.Minute)
}

// NowUnixMilli returns current time in Unix milliseconds
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
