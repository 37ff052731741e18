package multireader

import (
	"io"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempSAM(t *testing.T, lines ...string) string {
	t.Helper()
	dir, cleanup := testutil.TempDir(t, "", "multireader")
	t.Cleanup(cleanup)
	path := filepath.Join(dir, "in.sam")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

const header = "@HD\tVN:1.6\n@SQ\tSN:chr1\tLN:100000"

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatBGZFBAM, DetectFormat([]byte{0x1f, 0x8b, 0, 0}))
	assert.Equal(t, FormatRawBAM, DetectFormat([]byte{'B', 'A', 'M', 1}))
	assert.Equal(t, FormatSAM, DetectFormat([]byte("@HD\tVN:1.6")))
	assert.Equal(t, FormatUnknown, DetectFormat([]byte{0, 0}))
}

func TestOpenMergesTwoSourcesByPosition(t *testing.T) {
	p1 := writeTempSAM(t, header,
		"r200\t0\tchr1\t200\t60\t4M\t*\t0\t0\tACGT\tIIII",
		"r400\t0\tchr1\t400\t60\t4M\t*\t0\t0\tACGT\tIIII",
	)
	p2 := writeTempSAM(t, header,
		"r100\t0\tchr1\t100\t60\t4M\t*\t0\t0\tACGT\tIIII",
		"r300\t0\tchr1\t300\t60\t4M\t*\t0\t0\tACGT\tIIII",
	)

	rd, err := Open([]string{p1, p2}, nil)
	require.NoError(t, err)
	defer rd.Close()

	var names []string
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"r100", "r200", "r300", "r400"}, names)
}

func TestOpenRejectsEmptyPathList(t *testing.T) {
	_, err := Open(nil, nil)
	assert.Error(t, err)
}
