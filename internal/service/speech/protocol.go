package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎大模型语音识别的二进制帧格式：
//
//	byte0: 协议版本(4bit) | header 长度/4 (4bit)
//	byte1: 消息类型(4bit) | 标志位(4bit)
//	byte2: 序列化方式(4bit) | 压缩方式(4bit)
//	byte3: 保留
//	[sequence int32]   仅当标志位携带序号
//	[error code uint32] 仅错误帧
//	payload size uint32 + payload
const protocolVersion = 0b0001

type messageType uint8

const (
	fullClientRequest  messageType = 0b0001
	audioOnlyRequest   messageType = 0b0010
	fullServerResponse messageType = 0b1001
	serverAck          messageType = 0b1011
	serverError        messageType = 0b1111
)

type messageFlags uint8

const (
	flagNoSequence       messageFlags = 0b0000
	flagPositiveSequence messageFlags = 0b0001
	flagLastNoSequence   messageFlags = 0b0010
	flagNegativeSequence messageFlags = 0b0011
)

type serialization uint8

const (
	serializeNone serialization = 0b0000
	serializeJSON serialization = 0b0001
)

type compression uint8

const (
	compressNone compression = 0b0000
	compressGzip compression = 0b0001
)

type frameHeader struct {
	Version       uint8
	Size          uint8 // 以 4 字节为单位
	Type          messageType
	Flags         messageFlags
	Serialization serialization
	Compression   compression
}

type frame struct {
	Header    frameHeader
	Sequence  int32
	ErrorCode uint32
	Payload   []byte
}

func newHeader(t messageType, flags messageFlags, ser serialization, comp compression) frameHeader {
	return frameHeader{
		Version:       protocolVersion,
		Size:          1,
		Type:          t,
		Flags:         flags,
		Serialization: ser,
		Compression:   comp,
	}
}

func (h frameHeader) encode() []byte {
	return []byte{
		h.Version<<4 | h.Size,
		uint8(h.Type)<<4 | uint8(h.Flags),
		uint8(h.Serialization)<<4 | uint8(h.Compression),
		0x00,
	}
}

func (h frameHeader) hasSequence() bool {
	switch h.Flags & 0b0011 {
	case flagPositiveSequence, flagNegativeSequence:
		return true
	default:
		return false
	}
}

// isLast 判断是否为最后一包
func (f *frame) isLast() bool {
	switch f.Header.Flags & 0b0011 {
	case flagLastNoSequence, flagNegativeSequence:
		return true
	default:
		return f.Sequence < 0
	}
}

func encodeFrame(f *frame) []byte {
	buf := bytes.NewBuffer(f.Header.encode())

	if f.Header.hasSequence() {
		_ = binary.Write(buf, binary.BigEndian, f.Sequence)
	}
	if f.Header.Type == serverError {
		_ = binary.Write(buf, binary.BigEndian, f.ErrorCode)
	}
	_ = binary.Write(buf, binary.BigEndian, uint32(len(f.Payload)))
	buf.Write(f.Payload)

	return buf.Bytes()
}

func decodeFrame(r io.Reader) (*frame, error) {
	raw := make([]byte, 4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	header := frameHeader{
		Version:       raw[0] >> 4,
		Size:          raw[0] & 0x0F,
		Type:          messageType(raw[1] >> 4),
		Flags:         messageFlags(raw[1] & 0x0F),
		Serialization: serialization(raw[2] >> 4),
		Compression:   compression(raw[2] & 0x0F),
	}
	if header.Version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", header.Version)
	}

	// header 扩展字段目前没有使用，直接跳过
	if extra := int(header.Size)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	f := &frame{Header: header}
	if header.hasSequence() {
		if err := binary.Read(r, binary.BigEndian, &f.Sequence); err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
	}
	if header.Type == serverError {
		if err := binary.Read(r, binary.BigEndian, &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("read payload (expected %d bytes): %w", size, err)
		}
	}
	return f, nil
}

// newConfigFrame 构造携带识别参数的首帧
func newConfigFrame(payload []byte) (*frame, error) {
	compressed, err := gzipBytes(payload)
	if err != nil {
		return nil, err
	}
	return &frame{
		Header:  newHeader(fullClientRequest, flagNoSequence, serializeJSON, compressGzip),
		Payload: compressed,
	}, nil
}

// newAudioFrame 构造音频帧，最后一包使用负序号。
func newAudioFrame(chunk []byte, sequence int32, last bool) (*frame, error) {
	compressed, err := gzipBytes(chunk)
	if err != nil {
		return nil, err
	}

	flags := flagPositiveSequence
	if last {
		flags = flagNegativeSequence
		sequence = -sequence
	}
	return &frame{
		Header:   newHeader(audioOnlyRequest, flags, serializeNone, compressGzip),
		Sequence: sequence,
		Payload:  compressed,
	}, nil
}

func (f *frame) body() ([]byte, error) {
	switch f.Header.Compression {
	case compressNone:
		return f.Payload, nil
	case compressGzip:
		return gunzipBytes(f.Payload)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.Header.Compression)
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}
