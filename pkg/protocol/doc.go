// Package protocol implements the connected-vehicle dialog message set.
//
// The protocol package defines the dialog messages exchanged with the
// distribution service during trust establishment and data subscription,
// and their binary encoding.
//
// # Message Types
//
// Trust establishment (0x00xx):
//   - ServiceRequest: opens an exchange, may carry a reply-to point
//   - ServiceResponse: echoes dialog and request ids, carries an
//     expiration, the digest of the received request and an optional
//     service region
//
// Data subscription (0x01xx):
//   - DataSubscriptionRequest: type mask, end time, optional region
//   - DataSubscriptionCancel: cancels a subscription by id
//   - DataSubscriptionResponse: subscription id or an error code
//
// # Header Format
//
// Every message starts with a 12-byte header:
//   - Magic (4 bytes): Protocol identifier (0x43564447 = "CVDG")
//   - Version (2 bytes): Protocol version (0x0100 = v1.0)
//   - Type (2 bytes): Message type
//   - Length (4 bytes): Body length
//
// # Message Encoding
//
// Bodies use binary encoding with big-endian byte order:
//   - Fixed-size fields use direct binary encoding
//   - Variable-length fields are prefixed with their length (4 bytes)
//   - Optional fields are preceded by a presence byte
//   - Coordinates travel as signed 32-bit integers in 1e-7 degrees
//
// # Usage Example
//
//	req := protocol.NewServiceRequest(protocol.DialogVehSitData, 0, 42, nil)
//
//	codec := protocol.NewBinaryCodec()
//	data, err := codec.Encode(req)
//	if err != nil {
//	    return err
//	}
//
//	// Send over UDP, then decode the reply
//	msg, err := codec.Decode(reply)
//	resp, ok := msg.(*protocol.ServiceResponse)
package protocol
