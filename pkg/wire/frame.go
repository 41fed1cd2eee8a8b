/** Copyright 2020-2023 Alibaba Group Holding Limited.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package wire implements the length-prefixed JSON framing shared by the
// IPC (unix-domain) and RPC (TCP) control channels: a 64-bit little-endian
// length prefix followed by exactly that many bytes of UTF-8 JSON. Neither
// side pipelines: one request is read, dispatched, and answered before the
// next is read.
package wire

import (
	"encoding/binary"
	"io"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// MaxFrameSize rejects any header claiming a body larger than this; the
// connection is closed without a reply when it is exceeded.
const MaxFrameSize = 64 << 20

const lengthPrefixSize = 8

// ErrFrameTooLarge is returned by ReadFrame when the header's length
// exceeds MaxFrameSize. Callers must close the connection, not retry.
var ErrFrameTooLarge = errors.New("wire: frame exceeds 64 MiB limit")

// WriteFrame writes the length prefix followed by body on conn.
func WriteFrame(w io.Writer, body []byte) error {
	var header [lengthPrefixSize]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(body)))
	if _, err := writeFull(w, header[:]); err != nil {
		return errors.Wrap(err, "wire: write frame header")
	}
	if _, err := writeFull(w, body); err != nil {
		return errors.Wrap(err, "wire: write frame body")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. A length above
// MaxFrameSize yields ErrFrameTooLarge before any body bytes are consumed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := readFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint64(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := readFull(r, body); err != nil {
		return nil, errors.Wrap(err, "wire: read frame body")
	}
	return body, nil
}

func writeFull(w io.Writer, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func readFull(r io.Reader, data []byte) (int, error) {
	return io.ReadFull(r, data)
}

// Encode marshals v as a single JSON frame body.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals a JSON frame body into v.
func Decode(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

// WriteMessage encodes v and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	body, err := Encode(v)
	if err != nil {
		return errors.Wrap(err, "wire: encode message")
	}
	return WriteFrame(w, body)
}

// ReadMessage reads one frame and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	body, err := ReadFrame(r)
	if err != nil {
		return err
	}
	return Decode(body, v)
}
