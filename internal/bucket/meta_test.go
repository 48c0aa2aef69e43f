package bucket

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestAcl_RoundTrip(t *testing.T) {
	want := Acl{User: "alice", Token: "tok", Flags: AclWrite | AclAdmin}

	data, err := msgpack.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Acl
	if err := msgpack.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestAcl_Predicates(t *testing.T) {
	a := Acl{Flags: AclWrite}
	if !a.CanRead() {
		t.Error("CanRead must always be true")
	}
	if !a.CanWrite() {
		t.Error("expected CanWrite")
	}
	if a.CanAdmin() {
		t.Error("did not expect CanAdmin")
	}
	if a.NeedsNoToken() {
		t.Error("did not expect NeedsNoToken")
	}
}

// version1RawAcl builds a raw ACL tuple using the pre-migration
// encoding: two boolean bits packed into flags instead of the current
// NO_TOKEN/WRITE/ADMIN bitmask.
func version1RawAcl(noauthRead, noauthAll bool) []byte {
	var flags uint64
	if noauthRead {
		flags |= 1 << 0
	}
	if noauthAll {
		flags |= 1 << 1
	}

	data, err := msgpack.Marshal([]interface{}{uint16(1), "bob", "secret", flags})
	if err != nil {
		panic(err)
	}
	return data
}

func TestAcl_Version1Migration(t *testing.T) {
	cases := []struct {
		name                   string
		noauthRead, noauthAll  bool
		wantNoToken, wantWrite bool
		wantAdmin              bool
	}{
		{"neither set", false, false, false, true, true},
		{"noauth_read set", true, false, true, false, false},
		{"noauth_all set", false, true, true, true, true},
		{"both set", true, true, true, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var a Acl
			if err := msgpack.Unmarshal(version1RawAcl(tc.noauthRead, tc.noauthAll), &a); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			if a.NeedsNoToken() != tc.wantNoToken {
				t.Errorf("NeedsNoToken = %v, want %v", a.NeedsNoToken(), tc.wantNoToken)
			}
			if a.CanWrite() != tc.wantWrite {
				t.Errorf("CanWrite = %v, want %v", a.CanWrite(), tc.wantWrite)
			}
			if a.CanAdmin() != tc.wantAdmin {
				t.Errorf("CanAdmin = %v, want %v", a.CanAdmin(), tc.wantAdmin)
			}
		})
	}
}

func TestAcl_UnsupportedVersion(t *testing.T) {
	data, err := msgpack.Marshal([]interface{}{uint16(3), "u", "t", uint64(0)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var a Acl
	if err := msgpack.Unmarshal(data, &a); err == nil {
		t.Fatal("expected error for unsupported ACL version")
	}
}

func TestMeta_RoundTrip(t *testing.T) {
	want := Meta{
		Name: "my-bucket",
		Acl: map[string]Acl{
			"alice": {User: "alice", Token: "tok", Flags: AclWrite},
		},
		Groups:    []int32{1, 2, 3},
		Flags:     0,
		MaxSize:   1 << 30,
		MaxKeyNum: 1000,
	}

	data, err := EncodeMeta(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeMeta(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Name != want.Name || got.MaxSize != want.MaxSize || got.MaxKeyNum != want.MaxKeyNum {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.Groups) != len(want.Groups) {
		t.Fatalf("groups mismatch: got %v, want %v", got.Groups, want.Groups)
	}
	for i := range want.Groups {
		if got.Groups[i] != want.Groups[i] {
			t.Fatalf("groups mismatch at %d: got %v, want %v", i, got.Groups, want.Groups)
		}
	}
	if alice, ok := got.Acl["alice"]; !ok || alice.Token != "tok" {
		t.Fatalf("acl mismatch: got %+v", got.Acl)
	}
}

func TestMeta_UnsupportedVersion(t *testing.T) {
	raw := make([]interface{}, 10)
	raw[0] = uint16(2)
	for i := 1; i < 10; i++ {
		raw[i] = uint64(0)
	}
	data, err := msgpack.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if _, err := DecodeMeta(data); err == nil {
		t.Fatal("expected error for unsupported meta version")
	}
}
