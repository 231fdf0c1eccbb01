// Package row defines the single fixed-layout record this engine stores
// and its serialized form.
package row

import (
	"encoding/binary"
	"fmt"
	"strings"

	"ridgeql/internal/constants"
)

// Row is the engine's only record type: an unsigned 32-bit primary key, a
// username up to 32 bytes, and an email up to 255 bytes.
type Row struct {
	ID       uint32
	Username string
	Email    string
}

// Validate checks field-length constraints independent of serialization.
func Validate(username, email string) error {
	if len(username) > constants.UsernameMaxLen {
		return fmt.Errorf("row: username %d bytes exceeds max %d", len(username), constants.UsernameMaxLen)
	}
	if len(email) > constants.EmailMaxLen {
		return fmt.Errorf("row: email %d bytes exceeds max %d", len(email), constants.EmailMaxLen)
	}
	return nil
}

// Serialize packs r into dst, which must be exactly constants.RowSize
// bytes. Fields concatenate with no padding between them; unused trailing
// bytes in the username/email fields are zero-filled.
func Serialize(r Row, dst []byte) error {
	if len(dst) != constants.RowSize {
		return fmt.Errorf("row: serialize destination is %d bytes, expected %d", len(dst), constants.RowSize)
	}
	if err := Validate(r.Username, r.Email); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(dst[constants.IDOffset:], r.ID)

	for i := range dst[constants.UsernameOffset : constants.UsernameOffset+constants.UsernameFieldSize] {
		dst[constants.UsernameOffset+i] = 0
	}
	copy(dst[constants.UsernameOffset:], r.Username)

	for i := range dst[constants.EmailOffset : constants.EmailOffset+constants.EmailFieldSize] {
		dst[constants.EmailOffset+i] = 0
	}
	copy(dst[constants.EmailOffset:], r.Email)

	return nil
}

// Deserialize unpacks src, which must be exactly constants.RowSize bytes,
// into a Row, trimming the trailing zero terminator from each text field.
func Deserialize(src []byte) (Row, error) {
	if len(src) != constants.RowSize {
		return Row{}, fmt.Errorf("row: deserialize source is %d bytes, expected %d", len(src), constants.RowSize)
	}

	var r Row
	r.ID = binary.LittleEndian.Uint32(src[constants.IDOffset:])

	username := src[constants.UsernameOffset : constants.UsernameOffset+constants.UsernameFieldSize]
	r.Username = strings.TrimRight(string(username), "\x00")

	email := src[constants.EmailOffset : constants.EmailOffset+constants.EmailFieldSize]
	r.Email = strings.TrimRight(string(email), "\x00")

	return r, nil
}

// String renders a row the way `select` prints it: "(<id>, <username>, <email>)".
func (r Row) String() string {
	return fmt.Sprintf("(%d, %s, %s)", r.ID, r.Username, r.Email)
}
