package imount

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

// fakeParent is a minimal volumeParent for exercising Volume in isolation
// from a real Disk.
type fakeParent struct {
	path string
	rw   bool
	reg  *Registry
	run  Runner
}

func (f *fakeParent) rawPath() string         { return f.path }
func (f *fakeParent) readWrite() bool         { return f.rw }
func (f *fakeParent) runner() Runner          { return f.run }
func (f *fakeParent) registry() *Registry     { return f.reg }
func (f *fakeParent) blockSize() int64        { return 512 }
func (f *fakeParent) parserVolumes() []*Volume { return nil }

func newTestVolume(t *testing.T) (*Volume, *imounttest.MockRunner) {
	t.Helper()
	r := imounttest.NewMockRunner()
	parent := &fakeParent{path: "/tmp/image.dd", reg: NewRegistry(), run: r}
	v := NewVolume(parent, "1.1", 0, 1048576, "alloc")
	return v, r
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("p:hunter2")
	assert.NoError(t, err)
	assert.Equal(t, "p", k.Scheme)
	assert.Equal(t, "hunter2", k.Value)
	assert.Equal(t, "p:hunter2", k.String())

	_, err = ParseKey("no-colon")
	assert.Error(t, err)
}

func TestVolumeGetRawPathUsesOverride(t *testing.T) {
	v, _ := newTestVolume(t)
	assert.Equal(t, "/tmp/image.dd", v.GetRawPath())

	v.overrideRawPath = "/dev/mapper/imount_luks_00001"
	assert.Equal(t, "/dev/mapper/imount_luks_00001", v.GetRawPath())
}

func TestVolumeGetDescriptionAndFormattedSize(t *testing.T) {
	v, _ := newTestVolume(t)
	v.FSType = extFileSystem()
	v.Info["label"] = "root"
	assert.Equal(t, "alloc ext (root)", v.GetDescription())
	assert.Equal(t, "1.0 MiB", v.GetFormattedSize())
}

func TestVolumeShouldMount(t *testing.T) {
	v, _ := newTestVolume(t)
	assert.True(t, v.ShouldMount(nil, nil))
	assert.True(t, v.ShouldMount([]string{"1.1"}, nil))
	assert.False(t, v.ShouldMount([]string{"1.2"}, nil))
	assert.False(t, v.ShouldMount(nil, []string{"1.1"}))
}

func TestVolumeMountUnsupportedWithoutFSType(t *testing.T) {
	v, _ := newTestVolume(t)
	_, err := v.Mount(context.Background())
	assert.Error(t, err)
}

func TestVolumeDetectFileSystemTypeForced(t *testing.T) {
	v, _ := newTestVolume(t)
	err := v.DetectFileSystemType(context.Background(), "ntfs", "")
	assert.NoError(t, err)
	assert.Equal(t, "ntfs", v.FSType.Type())
}

func TestVolumeDetectFileSystemTypeUnknownFallsBackToFallback(t *testing.T) {
	v, _ := newTestVolume(t)
	err := v.DetectFileSystemType(context.Background(), "not-a-real-type", "unknown")
	assert.NoError(t, err)
	assert.Equal(t, "?unknown", v.FSType.Type())
}

func TestVolumeBindmountRequiresMountpoint(t *testing.T) {
	v, _ := newTestVolume(t)
	err := v.Bindmount(context.Background(), "/mnt/root/home")
	assert.Error(t, err)
}

func TestVolumeParserVolumesFlattensSubvolumes(t *testing.T) {
	v, _ := newTestVolume(t)
	child := NewVolume(v, v.Index+".1", 0, 4096, "alloc")
	grandchild := NewVolume(child, v.Index+".1.1", 0, 4096, "alloc")
	child.Volumes = append(child.Volumes, grandchild)
	v.Volumes = append(v.Volumes, child)

	flat := v.parserVolumes()
	assert.Len(t, flat, 2)
	assert.Same(t, child, flat[0])
	assert.Same(t, grandchild, flat[1])
}

func TestVolumeDetectFileSystemTypeProbesAtOffset(t *testing.T) {
	img, err := ioutil.TempFile("", "imount-image-")
	assert.NoError(t, err)
	defer os.Remove(img.Name())

	// second "partition" starts at offset 512 and its magic bytes should
	// be sniffed from there, not from the start of the backing image.
	content := append(make([]byte, 512), []byte("NTFS-MAGIC-BYTES")...)
	_, err = img.Write(content)
	assert.NoError(t, err)
	assert.NoError(t, img.Close())

	r := imounttest.NewMockRunner()
	r.SetOutput("blkid", `UUID="abc" TYPE="ntfs" USAGE="filesystem"`)
	r.SetOutput("file", "NTFS data")

	parent := &fakeParent{path: img.Name(), reg: NewRegistry(), run: r}
	v := NewVolume(parent, "1.2", 512, 16, "alloc")

	err = v.DetectFileSystemType(context.Background(), "", "unknown")
	assert.NoError(t, err)
	assert.Equal(t, "ntfs", v.FSType.Type())
	assert.True(t, r.CalledWith("blkid", "-O 512"))
}

func TestVolumeReadMagicPrefixReadsFromOffset(t *testing.T) {
	img, err := ioutil.TempFile("", "imount-image-")
	assert.NoError(t, err)
	defer os.Remove(img.Name())

	content := append(make([]byte, 10), []byte("HELLO")...)
	_, err = img.Write(content)
	assert.NoError(t, err)
	assert.NoError(t, img.Close())

	parent := &fakeParent{path: img.Name(), reg: NewRegistry(), run: imounttest.NewMockRunner()}
	v := NewVolume(parent, "1.1", 10, 5, "alloc")

	tmp, err := v.readMagicPrefix()
	assert.NoError(t, err)
	defer os.Remove(tmp)

	got, err := ioutil.ReadFile(tmp)
	assert.NoError(t, err)
	assert.Equal(t, "HELLO", string(got))
}

func TestVolumeReadMagicPrefixSkipsZeroSizeVolume(t *testing.T) {
	v, _ := newTestVolume(t)
	v.Size = 0
	tmp, err := v.readMagicPrefix()
	assert.NoError(t, err)
	assert.Empty(t, tmp)
}
