package alarm

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/images"
	"github.com/nvr-ai/traywatch/tracking"
)

// ErrNoSnapshot is returned when an alarm carries no image to persist.
var ErrNoSnapshot = errors.New("no snapshot to save")

// ProofRef locates a saved proof image on disk and over HTTP.
type ProofRef struct {
	Path string
	URL  string
}

// ProofStore writes proof images grouped by category.
type ProofStore struct {
	Dir     string
	BaseURL string
	Format  images.ImageFormat
}

// NewProofStore returns a store rooted at dir whose files are served under baseURL.
func NewProofStore(dir, baseURL string, format images.ImageFormat) *ProofStore {
	return &ProofStore{Dir: dir, BaseURL: baseURL, Format: format}
}

// FileName is the proof file name for a track, e.g. "lane3_track4_catcategory_2.jpg".
func (p *ProofStore) FileName(videoID string, trackID int, cat tracking.Category) string {
	return fmt.Sprintf("%s_track%d_cat%s.%s", videoID, trackID, cat, p.Format.Extension())
}

// Save writes img to {Dir}/{category}/{FileName}.
//
// Arguments:
//   - videoID: Identifier of the source video.
//   - trackID: Id of the alarmed track.
//   - cat: Category of the track's confirmed maximum count.
//   - img: The snapshot.
//
// Returns:
//   - ProofRef: Where the image was written and its public URL.
//   - error: ErrNoSnapshot for an empty image, or the write failure.
func (p *ProofStore) Save(videoID string, trackID int, cat tracking.Category, img gocv.Mat) (ProofRef, error) {
	// A zero Mat has no backing pointer and must not reach the C side.
	if img.Ptr() == nil || img.Empty() {
		return ProofRef{}, ErrNoSnapshot
	}

	dir := filepath.Join(p.Dir, cat.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ProofRef{}, errors.Wrapf(err, "create proof dir %s", dir)
	}

	name := p.FileName(videoID, trackID, cat)
	path := filepath.Join(dir, name)
	if ok := gocv.IMWrite(path, img); !ok {
		return ProofRef{}, errors.Errorf("write proof %s", path)
	}

	ref := ProofRef{Path: path}
	if p.BaseURL != "" {
		u, err := url.JoinPath(p.BaseURL, cat.String(), name)
		if err != nil {
			return ref, errors.Wrap(err, "proof url")
		}
		ref.URL = u
	}
	return ref, nil
}
