package modbus

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWordsBytes(t *testing.T) {
	for _, test := range []struct {
		bytes []byte
		words []uint16
	}{
		{[]byte{}, []uint16{}},
		{[]byte{0x12, 0x34}, []uint16{0x1234}},
		{[]byte{0xff, 0xff, 0x00, 0x01}, []uint16{0xffff, 0x0001}},
	} {
		if diff := cmp.Diff(Words(test.bytes), test.words); diff != "" {
			t.Errorf("Words(%x): got(-)/want(+):\n%s", test.bytes, diff)
		}
		if diff := cmp.Diff(Bytes(test.words...), test.bytes); diff != "" {
			t.Errorf("Bytes(%v): got(-)/want(+):\n%s", test.words, diff)
		}
	}
}

func TestConnectWithoutTarget(t *testing.T) {
	c := &Client{}
	if err := c.Connect(context.Background()); err == nil {
		t.Errorf("Connect with no target succeeded")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close before Connect: %v", err)
	}
}
