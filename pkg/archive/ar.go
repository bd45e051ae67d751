package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	arMagic      = "!<arch>\n"
	arHeaderSize = 60
	arFileMagic  = "`\n"
	arBSDPrefix  = "#1/"
	arGNUSymbols = "/"
	arGNUSym64   = "/SYM64/"
	arGNUNames   = "//"
)

// ErrBadArchive is returned for malformed ar containers.
var ErrBadArchive = errors.New("malformed ar archive")

// ArHeader describes one ar member.
type ArHeader struct {
	Name    string
	ModTime time.Time
	UID     int
	GID     int
	Mode    int64
	Size    int64
}

// ArReader reads members of a common-format ar archive sequentially.
type ArReader struct {
	r       *bufio.Reader
	remain  int64 // unread bytes of the current member
	pad     bool  // current member is followed by a padding byte
	started bool
	names   []byte // GNU long name table
}

// NewArReader returns a reader positioned before the first member.
func NewArReader(r io.Reader) *ArReader {
	return &ArReader{r: bufio.NewReader(r)}
}

// Next advances to the next member. It returns io.EOF at the end of the archive.
func (ar *ArReader) Next() (*ArHeader, error) {
	if !ar.started {
		magic := make([]byte, len(arMagic))
		if _, err := io.ReadFull(ar.r, magic); err != nil {
			return nil, fmt.Errorf("%w: reading magic: %v", ErrBadArchive, err)
		}
		if string(magic) != arMagic {
			return nil, fmt.Errorf("%w: bad magic %q", ErrBadArchive, magic)
		}
		ar.started = true
	}

	if err := ar.skipRemainder(); err != nil {
		return nil, err
	}

	buf := make([]byte, arHeaderSize)
	n, err := io.ReadFull(ar.r, buf)
	switch {
	case n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF):
		return nil, io.EOF
	case err != nil:
		return nil, fmt.Errorf("%w: truncated header", ErrBadArchive)
	}

	if string(buf[58:60]) != arFileMagic {
		return nil, fmt.Errorf("%w: bad member magic", ErrBadArchive)
	}

	hdr := &ArHeader{}
	name := strings.TrimRight(string(buf[0:16]), " ")
	mtime, _ := parseDecimal(buf[16:28])
	uid, _ := parseDecimal(buf[28:34])
	gid, _ := parseDecimal(buf[34:40])
	mode, _ := strconv.ParseInt(strings.TrimSpace(string(buf[40:48])), 8, 64)
	size, err := parseDecimal(buf[48:58])
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: bad size for %q", ErrBadArchive, name)
	}

	hdr.ModTime = time.Unix(mtime, 0)
	hdr.UID = int(uid)
	hdr.GID = int(gid)
	hdr.Mode = mode
	hdr.Size = size
	ar.remain = size
	ar.pad = size%2 == 1

	// BSD variant stores the real name at the start of the data.
	if strings.HasPrefix(name, arBSDPrefix) {
		nameLen, err := strconv.ParseInt(name[len(arBSDPrefix):], 10, 64)
		if err != nil || nameLen < 0 || nameLen > size {
			return nil, fmt.Errorf("%w: bad BSD name %q", ErrBadArchive, name)
		}
		long := make([]byte, nameLen)
		if _, err := io.ReadFull(ar.r, long); err != nil {
			return nil, fmt.Errorf("%w: truncated BSD name", ErrBadArchive)
		}
		name = strings.TrimRight(string(long), "\x00")
		ar.remain -= nameLen
		hdr.Size -= nameLen
	}

	switch {
	case name == arGNUSymbols || name == arGNUSym64:
		return ar.Next()
	case name == arGNUNames:
		table := make([]byte, size)
		if _, err := io.ReadFull(ar.r, table); err != nil {
			return nil, fmt.Errorf("%w: truncated name table", ErrBadArchive)
		}
		ar.names = table
		ar.remain = 0
		return ar.Next()
	case len(name) > 1 && name[0] == '/':
		long, err := ar.longName(name[1:])
		if err != nil {
			return nil, err
		}
		name = long
	}

	// GNU ar terminates names with a slash.
	hdr.Name = strings.TrimSuffix(name, "/")
	return hdr, nil
}

// longName resolves a GNU "/offset" reference into the name table.
func (ar *ArReader) longName(ref string) (string, error) {
	off, err := strconv.Atoi(ref)
	if err != nil || off < 0 || off >= len(ar.names) {
		return "", fmt.Errorf("%w: bad long name reference /%s", ErrBadArchive, ref)
	}
	end := strings.Index(string(ar.names[off:]), "/\n")
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated long name at /%s", ErrBadArchive, ref)
	}
	return string(ar.names[off : off+end]), nil
}

// Read reads from the current member.
func (ar *ArReader) Read(p []byte) (int, error) {
	if ar.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > ar.remain {
		p = p[:ar.remain]
	}
	n, err := ar.r.Read(p)
	ar.remain -= int64(n)
	if err == io.EOF && ar.remain > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (ar *ArReader) skipRemainder() error {
	skip := ar.remain
	if ar.pad {
		skip++
	}
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, ar.r, skip); err != nil && !(err == io.EOF && ar.remain == 0) {
			return fmt.Errorf("%w: truncated member", ErrBadArchive)
		}
	}
	ar.remain = 0
	ar.pad = false
	return nil
}

func parseDecimal(b []byte) (int64, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// ArWriter writes a common-format ar archive.
type ArWriter struct {
	w       io.Writer
	started bool
}

// NewArWriter returns a writer that emits the global header on first use.
func NewArWriter(w io.Writer) *ArWriter {
	return &ArWriter{w: w}
}

// WriteFile appends a member with the given name and contents.
// Names longer than 16 bytes use the BSD "#1/len" form.
func (aw *ArWriter) WriteFile(name string, mode int64, data []byte) error {
	if !aw.started {
		if _, err := io.WriteString(aw.w, arMagic); err != nil {
			return err
		}
		aw.started = true
	}

	field := name
	body := data
	if len(name) > 16 || strings.Contains(name, " ") {
		field = arBSDPrefix + strconv.Itoa(len(name))
		body = append([]byte(name), data...)
	}

	hdr := fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10d%s",
		field, time.Now().Unix(), 0, 0, mode, len(body), arFileMagic)
	if len(hdr) != arHeaderSize {
		return fmt.Errorf("ar header for %q overflows", name)
	}

	if _, err := io.WriteString(aw.w, hdr); err != nil {
		return err
	}
	if _, err := aw.w.Write(body); err != nil {
		return err
	}
	if len(body)%2 == 1 {
		if _, err := aw.w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}
