// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package gpt implements the GPT-compatible on-disk encoding of a
// planned device layout: a protective boot sector, a primary header
// with its 128-entry array, and a backup copy in the trailing reserved
// space near the end of the device.
package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/snapcore/rockflash/layout"
	"github.com/snapcore/rockflash/quantity"
)

type LBA uint64

// https://en.wikipedia.org/wiki/GUID_Partition_Table#Partition_table_header_(LBA_1)
type Header struct {
	Signature      [8]byte
	Revision       uint32
	HeaderSize     uint32
	HeaderCRC      uint32
	Reserved       uint32
	CurrentLBA     LBA
	AlternateLBA   LBA
	FirstUsableLBA LBA
	LastUsableLBA  LBA
	DiskGUID       [16]byte
	EntriesLBA     LBA
	NEntries       uint32
	EntrySize      uint32
	EntriesCRC     uint32
}

// Entry is one slot of the partition entry array.
type Entry struct {
	Type     [16]byte
	ID       [16]byte
	FirstLBA LBA
	LastLBA  LBA
	Attrs    uint64
	Name     [72]byte
}

const (
	signature  = "EFI PART"
	revision   = 1 << 16
	headerSize = 92
	// NumEntries is the number of slots in the entry array.
	NumEntries = 128
	// EntrySize is the encoded size of one entry.
	EntrySize = 128

	maxNameRunes = 36
)

// guidNamespace seeds the deterministic disk and partition GUIDs, so
// that flashing the same inputs twice produces byte-identical tables.
var guidNamespace = uuid.MustParse("a3091f28-8eaf-43a9-8f4c-2b5fbb4cfbd2")

// Partition is one partition as encoded in the table.
type Partition struct {
	Name  string
	Start quantity.Offset
	Size  quantity.Size
	Type  uuid.UUID
	ID    uuid.UUID
}

// Table is the fully resolved table of a device, ready to encode.
type Table struct {
	DiskGUID   uuid.UUID
	SectorSize quantity.Size
	Capacity   quantity.Size

	// HeaderLBA is the sector of the primary header; EntriesLBA
	// the start of the primary entry array.
	HeaderLBA  LBA
	EntriesLBA LBA
	// BackupEntriesLBA is the start of the backup entry array in
	// the trailing reserved space; the backup header sits in the
	// device's last sector.
	BackupEntriesLBA LBA
	FirstUsableLBA   LBA
	LastUsableLBA    LBA

	Partitions []Partition
}

// NewTable derives the table encoding of a planned layout. Disk and
// partition GUIDs are derived from the partition names under a fixed
// namespace, keeping repeat runs byte-identical.
func NewTable(dl *layout.DeviceLayout) (*Table, error) {
	sector := uint64(dl.SectorSize)
	if sector == 0 {
		return nil, fmt.Errorf("internal error: layout has no sector size")
	}

	headerLBA := LBA(uint64(dl.TableOffset) / sector)
	if headerLBA == 0 {
		// the protective boot sector occupies LBA 0, the header
		// can go at the canonical LBA 1 at the earliest
		headerLBA = 1
	}

	t := &Table{
		DiskGUID:         uuid.NewSHA1(guidNamespace, []byte("disk")),
		SectorSize:       dl.SectorSize,
		Capacity:         dl.Capacity,
		HeaderLBA:        headerLBA,
		EntriesLBA:       headerLBA + 1,
		BackupEntriesLBA: LBA(uint64(dl.BackupOffset) / sector),
		FirstUsableLBA:   LBA((uint64(dl.TableOffset) + uint64(dl.TableSize)) / sector),
		LastUsableLBA:    LBA(uint64(dl.BackupOffset)/sector - 1),
	}

	for _, p := range dl.Partitions {
		t.Partitions = append(t.Partitions, Partition{
			Name:  p.Name,
			Start: p.StartOffset,
			Size:  p.Size,
			Type:  TypeForName(p.Name),
			ID:    uuid.NewSHA1(guidNamespace, []byte("partition/"+p.Name)),
		})
	}
	return t, nil
}

func (t *Table) lastLBA() LBA {
	return LBA(uint64(t.Capacity)/uint64(t.SectorSize) - 1)
}

// ProtectiveMBR encodes the protective boot sector placed at LBA 0: a
// single 0xEE partition covering the whole device, so legacy tools see
// the disk as occupied rather than empty.
func (t *Table) ProtectiveMBR() []byte {
	buf := make([]byte, t.SectorSize)
	entry := buf[446:462]
	// bootable flag clear, CHS fields set to the conventional
	// out-of-range markers
	entry[1] = 0x00
	entry[2] = 0x02
	entry[3] = 0x00
	entry[4] = 0xee
	entry[5] = 0xff
	entry[6] = 0xff
	entry[7] = 0xff
	binary.LittleEndian.PutUint32(entry[8:12], 1)
	sizeLBA := uint64(t.lastLBA())
	if sizeLBA > 0xffffffff {
		sizeLBA = 0xffffffff
	}
	binary.LittleEndian.PutUint32(entry[12:16], uint32(sizeLBA))
	buf[510] = 0x55
	buf[511] = 0xaa
	return buf
}

// EncodeEntries encodes the full entry array.
func (t *Table) EncodeEntries() ([]byte, error) {
	if len(t.Partitions) > NumEntries {
		return nil, fmt.Errorf("cannot encode %d partitions, the entry array has %d slots", len(t.Partitions), NumEntries)
	}
	buf := &bytes.Buffer{}
	sector := uint64(t.SectorSize)
	for _, p := range t.Partitions {
		entry := Entry{
			Type:     wireGUID(p.Type),
			ID:       wireGUID(p.ID),
			FirstLBA: LBA(uint64(p.Start) / sector),
			LastLBA:  LBA((uint64(p.Start)+uint64(p.Size))/sector - 1),
		}
		if err := encodeEntryName(&entry, p.Name); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, &entry); err != nil {
			return nil, err
		}
	}
	// unused slots stay zeroed
	buf.Write(make([]byte, (NumEntries-len(t.Partitions))*EntrySize))
	return buf.Bytes(), nil
}

func encodeEntryName(entry *Entry, name string) error {
	units := utf16.Encode([]rune(name))
	if len(units) > maxNameRunes {
		return fmt.Errorf("partition name %q does not fit in a table entry", name)
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(entry.Name[2*i:], u)
	}
	return nil
}

// encodeHeader encodes a header into a full sector, with the header
// CRC computed over the encoded form.
func (t *Table) encodeHeader(current, alternate, entries LBA, entriesCRC uint32) ([]byte, error) {
	h := Header{
		Revision:       revision,
		HeaderSize:     headerSize,
		CurrentLBA:     current,
		AlternateLBA:   alternate,
		FirstUsableLBA: t.FirstUsableLBA,
		LastUsableLBA:  t.LastUsableLBA,
		DiskGUID:       wireGUID(t.DiskGUID),
		EntriesLBA:     entries,
		NEntries:       NumEntries,
		EntrySize:      EntrySize,
		EntriesCRC:     entriesCRC,
	}
	copy(h.Signature[:], signature)

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	raw := buf.Bytes()
	crc := crc32.ChecksumIEEE(raw[:headerSize])
	binary.LittleEndian.PutUint32(raw[16:20], crc)

	sector := make([]byte, t.SectorSize)
	copy(sector, raw)
	return sector, nil
}

// EncodePrimary returns the primary header sector followed by the
// entry array, to be written at the header LBA.
func (t *Table) EncodePrimary() ([]byte, error) {
	entries, err := t.EncodeEntries()
	if err != nil {
		return nil, err
	}
	header, err := t.encodeHeader(t.HeaderLBA, t.lastLBA(), t.EntriesLBA, crc32.ChecksumIEEE(entries))
	if err != nil {
		return nil, err
	}
	return append(header, entries...), nil
}

// EncodeBackup returns the backup entry array followed by the backup
// header sector. The array is written at the backup entries LBA; the
// header must land in the device's last sector, so the caller places
// the returned buffer such that it ends exactly at the device end.
func (t *Table) EncodeBackup() ([]byte, error) {
	entries, err := t.EncodeEntries()
	if err != nil {
		return nil, err
	}
	header, err := t.encodeHeader(t.lastLBA(), t.HeaderLBA, t.BackupEntriesLBA, crc32.ChecksumIEEE(entries))
	if err != nil {
		return nil, err
	}
	padding := make([]byte, uint64(t.lastLBA()-t.BackupEntriesLBA)*uint64(t.SectorSize)-uint64(len(entries)))
	out := append(entries, padding...)
	return append(out, header...), nil
}

// verifyHeader checks the signature, revision and CRC of a raw header
// sector.
func verifyHeader(raw []byte, header *Header) error {
	if !bytes.Equal(header.Signature[:], []byte(signature)) {
		return fmt.Errorf("header does not start with the GPT magic string")
	}
	if header.Revision != revision {
		return fmt.Errorf("unsupported header revision %#x", header.Revision)
	}
	if int(header.HeaderSize) < headerSize || int(header.HeaderSize) > len(raw) {
		return fmt.Errorf("invalid header size %d", header.HeaderSize)
	}

	// the stored CRC is computed with the CRC field itself zeroed
	scratch := make([]byte, len(raw))
	copy(scratch, raw)
	for i := 16; i < 20; i++ {
		scratch[i] = 0
	}
	if crc := crc32.ChecksumIEEE(scratch[:header.HeaderSize]); crc != header.HeaderCRC {
		return fmt.Errorf("header CRC32 mismatch: %v != %v", crc, header.HeaderCRC)
	}
	return nil
}

// ReadTable decodes the table whose header lives at headerLBA,
// verifying both CRCs. It is used to inspect a device after writing
// and in tests to close the encode/decode loop.
func ReadTable(r io.ReaderAt, sectorSize quantity.Size, headerLBA LBA) (*Table, error) {
	sector := uint64(sectorSize)
	rawHeader := make([]byte, sector)
	if _, err := r.ReadAt(rawHeader, int64(uint64(headerLBA)*sector)); err != nil {
		return nil, fmt.Errorf("cannot read header at LBA %d: %v", headerLBA, err)
	}
	var header Header
	if err := binary.Read(bytes.NewReader(rawHeader), binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if err := verifyHeader(rawHeader, &header); err != nil {
		return nil, err
	}

	rawEntries := make([]byte, uint64(header.NEntries)*uint64(header.EntrySize))
	if _, err := r.ReadAt(rawEntries, int64(uint64(header.EntriesLBA)*sector)); err != nil {
		return nil, fmt.Errorf("cannot read entry array at LBA %d: %v", header.EntriesLBA, err)
	}
	if crc := crc32.ChecksumIEEE(rawEntries); crc != header.EntriesCRC {
		return nil, fmt.Errorf("entry array CRC32 mismatch: %v != %v", crc, header.EntriesCRC)
	}

	t := &Table{
		DiskGUID:       guidFromWire(header.DiskGUID),
		SectorSize:     sectorSize,
		HeaderLBA:      header.CurrentLBA,
		EntriesLBA:     header.EntriesLBA,
		FirstUsableLBA: header.FirstUsableLBA,
		LastUsableLBA:  header.LastUsableLBA,
	}
	entryReader := bytes.NewReader(rawEntries)
	for i := 0; i < int(header.NEntries); i++ {
		var entry Entry
		if err := binary.Read(entryReader, binary.LittleEndian, &entry); err != nil {
			return nil, err
		}
		if entry.Type == ([16]byte{}) {
			continue
		}
		t.Partitions = append(t.Partitions, Partition{
			Name:  decodeEntryName(&entry),
			Start: quantity.Offset(uint64(entry.FirstLBA) * sector),
			Size:  quantity.Size((uint64(entry.LastLBA) - uint64(entry.FirstLBA) + 1) * sector),
			Type:  guidFromWire(entry.Type),
			ID:    guidFromWire(entry.ID),
		})
	}
	return t, nil
}

func decodeEntryName(entry *Entry) string {
	units := make([]uint16, 0, maxNameRunes)
	for i := 0; i < maxNameRunes; i++ {
		u := binary.LittleEndian.Uint16(entry.Name[2*i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
