// Package serializer encodes the accounting messages (common.Message) carried by the transports.
//
// Three encodings are available:
//
//   - Binary (NewBinarySerializer): a 16 bit presence mask followed by the set fields only.
//     A charge request is 27 bytes, a charge response rarely more than 35. This is the default
//     of the cli and the one to use in production.
//
//   - JSON (NewJSONSerializer): human readable, handy with the http transport and curl.
//
//   - GOB (NewGOBSerializer): Go's gob stream. Works, but every message carries its type
//     description, so payloads are the largest of the three.
//
// All implementations are stateless and may be shared between goroutines.
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewChargeRequest(logID, session, n))
//	...
//	var resp common.Message
//	err = s.Deserialize(respData, &resp)
package serializer
