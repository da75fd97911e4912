package syscalls

import "testing"

type fakeMem struct {
	strings map[uint64]string
	bytes   map[uint64][]byte
}

func (f *fakeMem) ReadCString(pid int, addr uint64, maxLen int) (string, error) {
	return f.strings[addr], nil
}

func (f *fakeMem) ReadBytes(pid int, addr uint64, n int) ([]byte, error) {
	return f.bytes[addr], nil
}

func TestOpenSuccessSetsFD(t *testing.T) {
	d := New()
	mem := &fakeMem{strings: map[uint64]string{0x1000: "/etc/passwd"}}
	args := [6]uint64{0x1000, 0, 0, 0, 0, 0}

	pending, ok := d.Entry(1, nrOpen, args, 100, mem)
	if !ok {
		t.Fatal("expected open to be interesting")
	}

	ev := d.Exit(pending, 5, 200, 1)
	if ev == nil || ev.FileOp == nil {
		t.Fatal("expected a FileOp event")
	}
	if ev.FileOp.FD == nil || *ev.FileOp.FD != 5 {
		t.Fatalf("expected fd=5, got %+v", ev.FileOp.FD)
	}
	if ev.FileOp.Path != "/etc/passwd" {
		t.Fatalf("expected path materialized, got %q", ev.FileOp.Path)
	}
}

func TestOpenFailureSetsResult(t *testing.T) {
	d := New()
	mem := &fakeMem{strings: map[uint64]string{0x1000: "/nope"}}
	args := [6]uint64{0x1000, 0, 0, 0, 0, 0}

	pending, _ := d.Entry(1, nrOpen, args, 100, mem)
	ev := d.Exit(pending, -2, 200, 1) // -ENOENT

	if ev.FileOp.FD != nil {
		t.Fatalf("expected no fd on failure, got %+v", ev.FileOp.FD)
	}
	if ev.FileOp.Result != -2 {
		t.Fatalf("expected result=-2, got %d", ev.FileOp.Result)
	}
}

func TestReadWriteBytesOnlyOnSuccess(t *testing.T) {
	d := New()
	mem := &fakeMem{}
	args := [6]uint64{3, 0, 0, 0, 0, 0}

	pending, _ := d.Entry(1, nrRead, args, 0, mem)
	ev := d.Exit(pending, 42, 0, 1)
	if ev.FileOp.Bytes == nil || *ev.FileOp.Bytes != 42 {
		t.Fatalf("expected bytes=42, got %+v", ev.FileOp.Bytes)
	}

	pending, _ = d.Entry(1, nrRead, args, 0, mem)
	ev = d.Exit(pending, -1, 0, 1)
	if ev.FileOp.Bytes != nil {
		t.Fatalf("expected no bytes on failure, got %+v", ev.FileOp.Bytes)
	}
}

func TestUninterestingSyscallIgnored(t *testing.T) {
	d := New()
	if d.Interesting(9) { // mmap
		t.Fatal("mmap should not be interesting")
	}
	_, ok := d.Entry(1, 9, [6]uint64{}, 0, &fakeMem{})
	if ok {
		t.Fatal("expected mmap entry to be rejected")
	}
}

func TestDecodeSockaddrInet(t *testing.T) {
	// AF_INET, port 80 (0x0050), 127.0.0.1
	b := []byte{2, 0, 0, 80, 127, 0, 0, 1}
	got := decodeSockaddr(b)
	if got != "127.0.0.1:80" {
		t.Fatalf("got %q", got)
	}
}

func TestDecodeSockaddrUnixAbstract(t *testing.T) {
	b := append([]byte{1, 0, 0}, []byte("mysock")...)
	got := decodeSockaddr(b)
	if got != "@mysock" {
		t.Fatalf("got %q", got)
	}
}

func TestConnectMaterializesDst(t *testing.T) {
	d := New()
	mem := &fakeMem{bytes: map[uint64][]byte{0x2000: {2, 0, 0, 80, 10, 0, 0, 1}}}
	args := [6]uint64{4, 0x2000, 16, 0, 0, 0}

	pending, ok := d.Entry(1, nrConnect, args, 0, mem)
	if !ok {
		t.Fatal("expected connect to be interesting")
	}
	ev := d.Exit(pending, 0, 0, 1)
	if ev.NetOp.Dst != "10.0.0.1:80" {
		t.Fatalf("got dst=%q", ev.NetOp.Dst)
	}
}
