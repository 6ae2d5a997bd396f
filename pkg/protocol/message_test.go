package protocol

import (
	"errors"
	"net/netip"
	"reflect"
	"testing"
	"time"
)

func TestCodecRoundTrip(t *testing.T) {
	region := &GeoRegion{NW: Position{Lat: 48.2, Lon: 11.4}, SE: Position{Lat: 48.0, Lon: 11.7}}
	code := uint32(ResourceLimitReached)
	expiration := time.UnixMilli(1_760_000_000_123).UTC()
	endTime := time.Unix(1_760_003_600, 0).UTC()

	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "service request without reply-to",
			msg:  NewServiceRequest(DialogVehSitData, 3, 42, nil),
		},
		{
			name: "service request with ipv4 reply-to",
			msg: NewServiceRequest(DialogVehSitData, 0, 42, &ConnectionPoint{
				Address: netip.MustParseAddr("10.0.0.5"),
				Port:    9000,
			}),
		},
		{
			name: "service request with ipv6 reply-to",
			msg: NewServiceRequest(DialogDataSubscription, 0, 1, &ConnectionPoint{
				Address: netip.MustParseAddr("2001:db8::1"),
				Port:    9001,
			}),
		},
		{
			name: "service request with port-only reply-to",
			msg:  NewServiceRequest(DialogDataSubscription, 0, 1, &ConnectionPoint{Port: 7000}),
		},
		{
			name: "service response with region",
			msg: &ServiceResponse{
				DialogID:      DialogVehSitData,
				SeqID:         SeqServiceResponse,
				RequestID:     42,
				Expiration:    expiration,
				Hash:          []byte{1, 2, 3, 4},
				ServiceRegion: region,
			},
		},
		{
			name: "service response without hash",
			msg: &ServiceResponse{
				DialogID:   DialogVehSitData,
				SeqID:      SeqServiceResponse,
				RequestID:  42,
				Expiration: expiration,
				Hash:       []byte{},
			},
		},
		{
			name: "subscription request",
			msg: &DataSubscriptionRequest{
				DialogID:      DialogDataSubscription,
				SeqID:         SeqSubscriptionRequest,
				RequestID:     42,
				TypeMask:      uint8(VsmFund | VsmWeather),
				EndTime:       endTime,
				ServiceRegion: region,
			},
		},
		{
			name: "subscription cancel",
			msg: &DataSubscriptionCancel{
				DialogID:       DialogDataSubscription,
				SeqID:          SeqSubscriptionCancel,
				RequestID:      43,
				SubscriptionID: 7,
			},
		},
		{
			name: "subscription response with error",
			msg: &DataSubscriptionResponse{
				DialogID:       DialogDataSubscription,
				SeqID:          SeqSubscriptionResp,
				RequestID:      42,
				SubscriptionID: 0,
				ErrorCode:      &code,
			},
		},
	}

	codec := NewBinaryCodec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := codec.Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			decoded, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if !reflect.DeepEqual(decoded, tt.msg) {
				t.Errorf("Decode() = %+v, want %+v", decoded, tt.msg)
			}
		})
	}
}

func TestCodecDecodeErrors(t *testing.T) {
	codec := NewBinaryCodec()
	valid, err := codec.Encode(NewServiceRequest(DialogVehSitData, 0, 1, nil))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	badType := append([]byte(nil), valid...)
	badType[6], badType[7] = 0x7f, 0x7f

	badLength := append([]byte(nil), valid...)
	badLength[11]++

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", valid[:HeaderSize-1]},
		{"truncated body", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte(nil), valid...), 0)},
		{"unknown type", badType},
		{"length mismatch", badLength},
		{"bad magic", append([]byte{0, 0, 0, 0}, valid[4:]...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Decode(tt.data); !errors.Is(err, ErrDecodeFailed) {
				t.Errorf("Decode() error = %v, want %v", err, ErrDecodeFailed)
			}
		})
	}
}

func TestMessageDecodeTruncation(t *testing.T) {
	msg := &ServiceResponse{
		DialogID:      DialogVehSitData,
		SeqID:         SeqServiceResponse,
		RequestID:     42,
		Expiration:    time.Now(),
		Hash:          make([]byte, 32),
		ServiceRegion: &GeoRegion{},
	}
	body := msg.Encode()

	for i := 0; i < len(body); i++ {
		if err := (&ServiceResponse{}).Decode(body[:i]); !errors.Is(err, ErrDecodeFailed) {
			t.Fatalf("Decode(body[:%d]) error = %v, want %v", i, err, ErrDecodeFailed)
		}
	}
}

func TestCodecEncodeNil(t *testing.T) {
	if _, err := NewBinaryCodec().Encode(nil); !errors.Is(err, ErrEncodeFailed) {
		t.Errorf("Encode(nil) error = %v, want %v", err, ErrEncodeFailed)
	}
}

func TestServiceResponseExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		expiration time.Time
		want       bool
	}{
		{"future", now.Add(time.Minute), false},
		{"equal", now, true},
		{"past", now.Add(-time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &ServiceResponse{Expiration: tt.expiration}
			if got := resp.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDataSubscriptionResponseHasError(t *testing.T) {
	code := uint32(1)
	if (&DataSubscriptionResponse{}).HasError() {
		t.Error("HasError() = true without code")
	}
	if !(&DataSubscriptionResponse{ErrorCode: &code}).HasError() {
		t.Error("HasError() = false with code")
	}
}
