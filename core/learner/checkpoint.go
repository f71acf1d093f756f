package learner

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"

	"github.com/adalundhe/contrail/core/nn"
)

var checkpointMagic = [4]byte{'C', 'T', 'R', 'L'}

const checkpointVersion uint32 = 1

// MarshalBinary serializes the learner's mutable state: every query,
// key, and clustering-head parameter plus both negative queues and
// their write pointers. Layout is little-endian with a trailing CRC32
// over everything before it.
func (l *Learner) MarshalBinary() ([]byte, error) {
	query := l.pair.Query.Params()
	key := l.pair.Key.Params()
	var clusterParams []*nn.Param
	if l.clusterHead != nil {
		clusterParams = l.clusterHead.Params()
	}

	size := 4 + 4 + // magic, version
		5*4 + // embDim, negatives, batchSize, #query, #cluster
		paramBytes(query) + paramBytes(key) + paramBytes(clusterParams) +
		2*4 + // train ptr, val ptr
		4*len(l.trainQueue.Data()) + 4*len(l.valQueue.Data()) +
		4 // checksum

	buf := make([]byte, 0, size)
	buf = append(buf, checkpointMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, checkpointVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(l.model.EmbDim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(l.model.NumNegatives))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(l.model.BatchSize))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(query)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(clusterParams)))

	for _, group := range [][]*nn.Param{query, key, clusterParams} {
		for _, p := range group {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Data)))
			buf = appendFloats(buf, p.Data)
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(l.trainQueue.Pointer()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(l.valQueue.Pointer()))
	buf = appendFloats(buf, l.trainQueue.Data())
	buf = appendFloats(buf, l.valQueue.Data())

	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}

// UnmarshalBinary restores state saved by MarshalBinary into a learner
// that was constructed with the same configuration. Shape mismatches
// and corruption are hard errors; the learner is left untouched on
// failure until parameter copying begins.
func (l *Learner) UnmarshalBinary(data []byte) error {
	if len(data) < 4+4+5*4+4 {
		return fmt.Errorf("checkpoint: truncated at %d bytes", len(data))
	}
	if [4]byte(data[0:4]) != checkpointMagic {
		return fmt.Errorf("checkpoint: invalid magic")
	}

	body, tail := data[:len(data)-4], data[len(data)-4:]
	if stored, computed := binary.LittleEndian.Uint32(tail), crc32.ChecksumIEEE(body); stored != computed {
		return fmt.Errorf("checkpoint: checksum mismatch: stored=%x computed=%x", stored, computed)
	}

	r := reader{buf: body[4:]}
	if version := r.uint32(); version != checkpointVersion {
		return fmt.Errorf("checkpoint: unsupported version %d", version)
	}
	embDim := int(r.uint32())
	negatives := int(r.uint32())
	batchSize := int(r.uint32())
	if embDim != l.model.EmbDim || negatives != l.model.NumNegatives || batchSize != l.model.BatchSize {
		return fmt.Errorf("checkpoint: shape %d/%d/%d does not match configured %d/%d/%d",
			embDim, negatives, batchSize, l.model.EmbDim, l.model.NumNegatives, l.model.BatchSize)
	}

	query := l.pair.Query.Params()
	key := l.pair.Key.Params()
	var clusterParams []*nn.Param
	if l.clusterHead != nil {
		clusterParams = l.clusterHead.Params()
	}
	if n := int(r.uint32()); n != len(query) {
		return fmt.Errorf("checkpoint: %d encoder parameters, learner has %d", n, len(query))
	}
	if n := int(r.uint32()); n != len(clusterParams) {
		return fmt.Errorf("checkpoint: %d clustering parameters, learner has %d", n, len(clusterParams))
	}

	for _, group := range [][]*nn.Param{query, key, clusterParams} {
		for _, p := range group {
			n := int(r.uint32())
			if n != len(p.Data) {
				return fmt.Errorf("checkpoint: parameter %s has %d values, expected %d", p.Name, n, len(p.Data))
			}
			r.floats(p.Data)
		}
	}

	trainPtr := int(r.uint32())
	valPtr := int(r.uint32())
	trainData := make([]float32, negatives*embDim)
	valData := make([]float32, negatives*embDim)
	r.floats(trainData)
	r.floats(valData)
	if r.err != nil {
		return fmt.Errorf("checkpoint: %w", r.err)
	}

	if err := l.trainQueue.Restore(trainData, trainPtr); err != nil {
		return fmt.Errorf("checkpoint: restore train queue: %w", err)
	}
	if err := l.valQueue.Restore(valData, valPtr); err != nil {
		return fmt.Errorf("checkpoint: restore validation queue: %w", err)
	}
	return nil
}

// Save writes a checkpoint to path.
func (l *Learner) Save(path string) error {
	data, err := l.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	return nil
}

// Load restores a checkpoint from path.
func (l *Learner) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	return l.UnmarshalBinary(data)
}

func paramBytes(params []*nn.Param) int {
	total := 0
	for _, p := range params {
		total += 4 + 4*len(p.Data)
	}
	return total
}

func appendFloats(buf []byte, values []float32) []byte {
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.err = fmt.Errorf("truncated payload")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	return v
}

func (r *reader) floats(dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(r.uint32())
	}
}
