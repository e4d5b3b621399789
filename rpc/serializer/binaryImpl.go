package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dMem/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: 1 byte MsgType, 2 bytes flags (big endian), then every field whose flag is set in flag order.
// Integers are 8 bytes big endian, byte slices and strings are prefixed with a 4 byte length.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasLogID    uint16 = 1 << 0
	hasSession  uint16 = 1 << 1
	hasBytes    uint16 = 1 << 2
	hasLimit    uint16 = 1 << 3
	hasConsumed uint16 = 1 << 4
	hasLocal    uint16 = 1 << 5
	hasValue    uint16 = 1 << 6
	hasOk       uint16 = 1 << 7
	hasErr      uint16 = 1 << 8
	hasMeta     uint16 = 1 << 9
)

const headerSize = 3 // MsgType + flags

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16
	pos := headerSize

	putUint := func(flag uint16, v uint64) {
		if v == 0 {
			return
		}
		flags |= flag
		binary.BigEndian.PutUint64(result[pos:pos+8], v)
		pos += 8
	}
	putBytes := func(flag uint16, v []byte, present bool) {
		if !present {
			return
		}
		flags |= flag
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(v)))
		pos += 4
		pos += copy(result[pos:], v)
	}

	putUint(hasLogID, msg.LogID)
	putUint(hasSession, msg.Session)
	putUint(hasBytes, uint64(msg.Bytes))
	putUint(hasLimit, uint64(msg.Limit))
	putUint(hasConsumed, uint64(msg.Consumed))
	putUint(hasLocal, uint64(msg.Local))
	putBytes(hasValue, msg.Value, msg.Value != nil)

	// Ok is encoded by its flag alone
	if msg.Ok {
		flags |= hasOk
	}

	putBytes(hasErr, []byte(msg.Err), msg.Err != "")
	putBytes(hasMeta, msg.Meta, msg.Meta != nil)

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := binary.BigEndian.Uint16(data[1:3])
	pos := headerSize

	readUint := func(flag uint16, name string) (uint64, error) {
		if flags&flag == 0 {
			return 0, nil
		}
		if pos+8 > len(data) {
			return 0, fmt.Errorf("data too short for %s", name)
		}
		v := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		return v, nil
	}

	// readBytes reuses dst if it is large enough, a present but empty field yields an empty (non nil) slice
	readBytes := func(flag uint16, name string, dst []byte) ([]byte, error) {
		if flags&flag == 0 {
			return nil, nil
		}
		if pos+4 > len(data) {
			return nil, fmt.Errorf("data too short for %s length", name)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+n > len(data) {
			return nil, fmt.Errorf("data too short for %s data", name)
		}
		if dst == nil || cap(dst) < n {
			dst = make([]byte, n)
		} else {
			dst = dst[:n]
		}
		copy(dst, data[pos:pos+n])
		pos += n
		return dst, nil
	}

	var err error
	var v uint64

	if msg.LogID, err = readUint(hasLogID, "LogID"); err != nil {
		return err
	}
	if msg.Session, err = readUint(hasSession, "Session"); err != nil {
		return err
	}
	if v, err = readUint(hasBytes, "Bytes"); err != nil {
		return err
	}
	msg.Bytes = int64(v)
	if v, err = readUint(hasLimit, "Limit"); err != nil {
		return err
	}
	msg.Limit = int64(v)
	if v, err = readUint(hasConsumed, "Consumed"); err != nil {
		return err
	}
	msg.Consumed = int64(v)
	if v, err = readUint(hasLocal, "Local"); err != nil {
		return err
	}
	msg.Local = int64(v)

	if msg.Value, err = readBytes(hasValue, "value", msg.Value); err != nil {
		return err
	}

	msg.Ok = flags&hasOk != 0

	errBytes, err := readBytes(hasErr, "error", nil)
	if err != nil {
		return err
	}
	msg.Err = string(errBytes)

	if msg.Meta, err = readBytes(hasMeta, "meta", msg.Meta); err != nil {
		return err
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	for _, v := range []uint64{msg.LogID, msg.Session, uint64(msg.Bytes), uint64(msg.Limit), uint64(msg.Consumed), uint64(msg.Local)} {
		if v != 0 {
			size += 8
		}
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}

	return size
}
