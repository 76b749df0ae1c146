// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package header encodes and validates the on-disk pool header laid out in
// spec.md §6: an 8 KiB reserved region, little-endian, checksummed with
// fletcher64 over its first 4 KiB.
package header

import (
	"encoding/binary"
	"time"

	"github.com/pmem/pmdk-sub008/pkg/pmem/fletcher"
	"github.com/pmem/pmdk-sub008/pkg/pmem/pmemerr"
)

const (
	// Size is the total reserved header region; only the first 4 KiB
	// defined below carries meaning.
	Size = 8192

	offSignature         = 0
	lenSignature         = 8
	offMajor             = 8
	offCompatFeatures    = 12
	offIncompatFeatures  = 16
	offROCompatFeatures  = 20
	offUUID              = 24
	lenUUID              = 16
	offCrtime            = 40
	offReserved          = 48
	lenReserved          = 4040
	offChecksum          = 4088
	checksumRegionLength = 4096
)

// SupportedMajor is the only major version this implementation opens
// without a VersionMismatch.
const SupportedMajor = 1

// UUID is a 16-byte pool identifier; poolset.Open compares these across
// replicas per spec.md §4.7.
type UUID [lenUUID]byte

// Features bundles the three feature masks spec.md §4.6 step 7 checks
// during open.
type Features struct {
	Compat   uint32
	Incompat uint32
	ROCompat uint32
}

// Header is the decoded form of the on-disk layout.
type Header struct {
	Signature string
	Major     uint32
	Features  Features
	UUID      UUID
	Crtime    int64
}

// KnownFeatures bounds which incompat/ro_compat bits this implementation
// recognizes; a caller-specific pool kind supplies its own set via Create
// and Open.
type KnownFeatures struct {
	Incompat uint32
	ROCompat uint32
}

// Encode writes h into buf[0:Size] (buf must be at least Size bytes; the
// whole region is zeroed first), following spec.md §4.6's Create steps: signature, masks,
// uuid, crtime, zeroed reserved area, then a checksum computed with the
// checksum slot treated as zero.
func Encode(buf []byte, h Header) {
	if len(buf) < Size {
		panic("header: buffer smaller than header.Size")
	}
	for i := range buf[:Size] {
		buf[i] = 0
	}
	copy(buf[offSignature:offSignature+lenSignature], h.Signature)
	binary.LittleEndian.PutUint32(buf[offMajor:], h.Major)
	binary.LittleEndian.PutUint32(buf[offCompatFeatures:], h.Features.Compat)
	binary.LittleEndian.PutUint32(buf[offIncompatFeatures:], h.Features.Incompat)
	binary.LittleEndian.PutUint32(buf[offROCompatFeatures:], h.Features.ROCompat)
	copy(buf[offUUID:offUUID+lenUUID], h.UUID[:])
	binary.LittleEndian.PutUint64(buf[offCrtime:], uint64(h.Crtime))
	// offReserved..offChecksum is already zero from the clear above.
	fletcher.Compute(buf[:checksumRegionLength], offChecksum)
}

// New builds a Header for Create, stamping the current time and a random
// UUID (supplied by the caller, since pool creation owns the entropy
// source used to generate it).
func New(signature string, major uint32, features Features, uuid UUID) Header {
	return Header{
		Signature: signature,
		Major:     major,
		Features:  features,
		UUID:      uuid,
		Crtime:    time.Now().Unix(),
	}
}

// OpenResult is what Decode reports back beyond the plain Header, since
// spec.md §4.6 step 7's ro_compat handling changes caller behavior (force
// read-only) without being a hard failure.
type OpenResult struct {
	Header
	ForcedReadOnly bool
}

// Decode validates and parses buf (at least Size bytes) against the
// expected signature and known feature bits, implementing spec.md §4.6's
// Open steps 2-7 in order.
func Decode(buf []byte, path string, wantSignature string, known KnownFeatures) (OpenResult, error) {
	if len(buf) < Size {
		return OpenResult{}, pmemerr.New("open", pmemerr.KindInvalidHeader, path, nil)
	}

	major := binary.LittleEndian.Uint32(buf[offMajor:])
	if major == 0 {
		return OpenResult{}, pmemerr.New("open", pmemerr.KindInvalidHeader, path, nil)
	}

	if !fletcher.Verify(buf[:checksumRegionLength], offChecksum) {
		return OpenResult{}, pmemerr.New("open", pmemerr.KindInvalidHeader, path, nil)
	}

	sig := string(trimNulls(buf[offSignature : offSignature+lenSignature]))
	if sig != wantSignature {
		return OpenResult{}, pmemerr.New("open", pmemerr.KindWrongType, path, nil)
	}

	if major != SupportedMajor {
		return OpenResult{}, pmemerr.New("open", pmemerr.KindVersionMismatch, path, nil)
	}

	h := Header{
		Signature: sig,
		Major:     major,
		Features: Features{
			Compat:   binary.LittleEndian.Uint32(buf[offCompatFeatures:]),
			Incompat: binary.LittleEndian.Uint32(buf[offIncompatFeatures:]),
			ROCompat: binary.LittleEndian.Uint32(buf[offROCompatFeatures:]),
		},
		Crtime: int64(binary.LittleEndian.Uint64(buf[offCrtime:])),
	}
	copy(h.UUID[:], buf[offUUID:offUUID+lenUUID])

	if h.Features.Incompat&^known.Incompat != 0 {
		return OpenResult{}, pmemerr.New("open", pmemerr.KindUnsupportedIncompat, path, nil)
	}

	// Unknown compat_features bits are logged by the caller (which has
	// the configured logger) and otherwise ignored, per spec.md §4.6
	// step 7.
	forcedRO := h.Features.ROCompat&^known.ROCompat != 0

	return OpenResult{Header: h, ForcedReadOnly: forcedRO}, nil
}

func trimNulls(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
