package bypass

import (
	"bytes"
	"encoding/binary"
)

// linux_dirent64 layout: d_ino u64, d_off i64, d_reclen u16, d_type u8, d_name NUL terminated.
const (
	direntInoOff    = 0
	direntOffOff    = 8
	direntReclenOff = 16
	direntTypeOff   = 18
	direntNameOff   = 19
)

// parseDirents decodes the records getdents64 wrote to buf. Truncated trailing bytes are ignored.
func parseDirents(buf []byte, dst []Dirent) []Dirent {
	for len(buf) >= direntNameOff {
		reclen := int(binary.NativeEndian.Uint16(buf[direntReclenOff:]))
		if reclen < direntNameOff || reclen > len(buf) {
			break
		}
		rec := buf[:reclen]
		name := rec[direntNameOff:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		dst = append(dst, Dirent{
			Ino:  binary.NativeEndian.Uint64(rec[direntInoOff:]),
			Off:  int64(binary.NativeEndian.Uint64(rec[direntOffOff:])),
			Type: rec[direntTypeOff],
			Name: string(name),
		})
		buf = buf[reclen:]
	}
	return dst
}

// appendDirent encodes d as one linux_dirent64 record, padded to 8 bytes.
func appendDirent(buf []byte, d Dirent) []byte {
	reclen := (direntNameOff + len(d.Name) + 1 + 7) &^ 7
	rec := make([]byte, reclen)
	binary.NativeEndian.PutUint64(rec[direntInoOff:], d.Ino)
	binary.NativeEndian.PutUint64(rec[direntOffOff:], uint64(d.Off))
	binary.NativeEndian.PutUint16(rec[direntReclenOff:], uint16(reclen))
	rec[direntTypeOff] = d.Type
	copy(rec[direntNameOff:], d.Name)
	return append(buf, rec...)
}
