package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 Bytes"},
		{-5, "0 Bytes"},
		{1, "1 Bytes"},
		{1023, "1023 Bytes"},
		{1024, "1 KB"},
		{1025, "1 KB"},
		{1126, "1.1 KB"},
		{1536, "1.5 KB"},
		{1048575, "1024 KB"},
		{1048576, "1 MB"},
		{1610612736, "1.5 GB"},
		{1 << 40, "1 TB"},
		{3 * (1 << 39), "1.5 TB"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, Format(tc.in))
		})
	}
}

func TestFormatClampsAboveTB(t *testing.T) {
	assert.Equal(t, "1024 TB", Format(1<<50))
	assert.Equal(t, "2048 TB", Format(1<<51))
}
