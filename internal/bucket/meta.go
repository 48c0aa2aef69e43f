// Package bucket implements the in-memory Bucket Record: the decoded
// metadata blob for one bucket, its per-group stat snapshot, and the
// weight function that ranks it against a requested write size.
package bucket

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Acl flags, an authorization bitmask over a single user entry in a
// bucket's metadata.
const (
	AclNoToken = 0x01 // may perform requests without a token
	AclWrite   = 0x02 // may write to this bucket
	AclAdmin   = 0x04 // may change this bucket's metadata
)

// aclSerializationVersion is always written; version 1 is still
// accepted on read and migrated in place.
const aclSerializationVersion = 2

// Acl is one user's authorization entry in a bucket's metadata.
type Acl struct {
	User  string
	Token string
	Flags uint64
}

// CanRead is always true: every ACL entry may read.
func (a Acl) CanRead() bool { return true }

// CanWrite reports the write bit.
func (a Acl) CanWrite() bool { return a.Flags&AclWrite != 0 }

// CanAdmin reports the admin bit.
func (a Acl) CanAdmin() bool { return a.Flags&AclAdmin != 0 }

// NeedsNoToken reports whether this user may skip token authorization.
func (a Acl) NeedsNoToken() bool { return a.Flags&AclNoToken != 0 }

// EncodeMsgpack writes the 4-field tuple [version, user, token, flags],
// always at the current serialization version.
func (a Acl) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := enc.EncodeUint16(aclSerializationVersion); err != nil {
		return err
	}
	if err := enc.EncodeString(a.User); err != nil {
		return err
	}
	if err := enc.EncodeString(a.Token); err != nil {
		return err
	}
	return enc.EncodeUint64(a.Flags)
}

// DecodeMsgpack reads the 4-field ACL tuple, accepting versions 1 and
// 2. A version-1 record used two boolean bits (noauth_read,
// noauth_all) in place of the current flag set; this migrates them on
// read, per the documented version-1-to-2 mapping.
func (a *Acl) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 4 {
		return fmt.Errorf("bucket acl unpack: array size mismatch: read %d, must be 4", n)
	}

	version, err := dec.DecodeUint16()
	if err != nil {
		return err
	}
	user, err := dec.DecodeString()
	if err != nil {
		return err
	}
	token, err := dec.DecodeString()
	if err != nil {
		return err
	}
	flags, err := dec.DecodeUint64()
	if err != nil {
		return err
	}

	switch version {
	case 1:
		noauthRead := flags&(1<<0) != 0
		noauthAll := flags&(1<<1) != 0

		flags = 0
		if noauthAll || noauthRead {
			flags |= AclNoToken
		}
		if !noauthRead {
			flags |= AclAdmin | AclWrite
		}
	case 2:
		// current encoding, nothing to migrate
	default:
		return fmt.Errorf("bucket acl unpack: version mismatch: read %d, must be <= %d", version, aclSerializationVersion)
	}

	a.User = user
	a.Token = token
	a.Flags = flags
	return nil
}

// metaSerializationVersion is the only version this decoder accepts;
// there is no migration path for bucket metadata itself, unlike the
// nested ACL tuples.
const metaSerializationVersion = 1

// Meta is the decoded bucket metadata blob: its ACL table, replication
// group set, and size/key-count ceilings.
type Meta struct {
	Name      string
	Acl       map[string]Acl
	Groups    []int32
	Flags     uint64
	MaxSize   uint64
	MaxKeyNum uint64
}

// EncodeMsgpack writes the 10-field tuple
// [version, name, acl, groups, flags, max_size, max_key_num, r0, r1, r2].
func (m Meta) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(10); err != nil {
		return err
	}
	if err := enc.EncodeUint16(metaSerializationVersion); err != nil {
		return err
	}
	if err := enc.EncodeString(m.Name); err != nil {
		return err
	}
	if err := enc.EncodeMapLen(len(m.Acl)); err != nil {
		return err
	}
	for user, acl := range m.Acl {
		if err := enc.EncodeString(user); err != nil {
			return err
		}
		if err := enc.Encode(acl); err != nil {
			return err
		}
	}
	if err := enc.Encode(m.Groups); err != nil {
		return err
	}
	if err := enc.EncodeUint64(m.Flags); err != nil {
		return err
	}
	if err := enc.EncodeUint64(m.MaxSize); err != nil {
		return err
	}
	if err := enc.EncodeUint64(m.MaxKeyNum); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if err := enc.EncodeUint64(0); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack reads the 10-field metadata tuple. Only version 1 is
// accepted; there is no older encoding to migrate from.
func (m *Meta) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n < 10 {
		return fmt.Errorf("bucket meta unpack: array size mismatch: read %d, must be 10", n)
	}

	version, err := dec.DecodeUint16()
	if err != nil {
		return err
	}
	if version != metaSerializationVersion {
		return fmt.Errorf("bucket meta unpack: version mismatch: read %d, must be <= %d", version, metaSerializationVersion)
	}

	name, err := dec.DecodeString()
	if err != nil {
		return err
	}

	aclLen, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	acl := make(map[string]Acl, aclLen)
	for i := 0; i < aclLen; i++ {
		user, err := dec.DecodeString()
		if err != nil {
			return err
		}
		var a Acl
		if err := dec.Decode(&a); err != nil {
			return err
		}
		acl[user] = a
	}

	var groups []int32
	if err := dec.Decode(&groups); err != nil {
		return err
	}

	flags, err := dec.DecodeUint64()
	if err != nil {
		return err
	}
	maxSize, err := dec.DecodeUint64()
	if err != nil {
		return err
	}
	maxKeyNum, err := dec.DecodeUint64()
	if err != nil {
		return err
	}

	for i := 7; i < n; i++ {
		if _, err := dec.DecodeUint64(); err != nil {
			return err
		}
	}

	m.Name = name
	m.Acl = acl
	m.Groups = groups
	m.Flags = flags
	m.MaxSize = maxSize
	m.MaxKeyNum = maxKeyNum
	return nil
}

// DecodeMeta decodes a bucket metadata blob from its wire encoding.
func DecodeMeta(data []byte) (Meta, error) {
	var m Meta
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// EncodeMeta encodes a bucket metadata blob to its wire encoding.
func EncodeMeta(m Meta) ([]byte, error) {
	return msgpack.Marshal(m)
}
