package views

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ts4z/hearth/he"
	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/state"
	"github.com/ts4z/hearth/storecache"
	"github.com/ts4z/hearth/toast"
)

const (
	NothingToPost   = "Please add text or a file."
	UnsupportedFile = "Unsupported file type"
	PostFailed      = "Failed to create post"
	NoStoryFile     = "Please select a file first."
	StoryFailed     = "Failed to upload story. Please try again."
)

// ErrBlank is returned for a comment or message with nothing in it.  Nothing
// is sent.
var ErrBlank = errors.New("views: nothing to send")

func invalid(msg string) error {
	return he.HTTPCodedErrorf(http.StatusBadRequest, "%s", msg)
}

// Draft is a post being composed.
type Draft struct {
	Content    string
	Visibility string
	File       *state.Upload
}

// NewPost checks the draft and sorts its file into an image or a video by
// content type.
func (d *Draft) NewPost() (*state.NewPost, error) {
	if strings.TrimSpace(d.Content) == "" && d.File == nil {
		return nil, invalid(NothingToPost)
	}
	np := &state.NewPost{Content: d.Content, Visibility: d.Visibility}
	if np.Visibility == "" {
		np.Visibility = model.VisibilityPublic
	}
	if d.File != nil {
		ct := state.UploadContentType(d.File)
		switch {
		case strings.HasPrefix(ct, "image/"):
			np.Image = d.File
		case strings.HasPrefix(ct, "video/"):
			np.Video = d.File
		default:
			return nil, invalid(UnsupportedFile)
		}
	}
	return np, nil
}

// CreatePost publishes d.  Lists of posts are invalidated on success.
func (e *Env) CreatePost(ctx context.Context, d Draft) (*model.Post, error) {
	np, err := d.NewPost()
	if err != nil {
		toast.Failed(e.sink, err, PostFailed)
		return nil, err
	}
	p, err := e.store.CreatePost(ctx, np)
	if err != nil {
		toast.Failed(e.sink, err, PostFailed)
		return nil, err
	}
	e.cache.InvalidateKind(storecache.KindPosts, storecache.KindProfilePosts)
	return p, nil
}

// CreateStory uploads file as a story.
func (e *Env) CreateStory(ctx context.Context, file *state.Upload) (*model.Story, error) {
	if file == nil {
		err := invalid(NoStoryFile)
		toast.Failed(e.sink, err, NoStoryFile)
		return nil, err
	}
	s, err := e.store.CreateStory(ctx, file)
	if err != nil {
		toast.Failed(e.sink, err, StoryFailed)
		return nil, err
	}
	e.cache.Invalidate(storecache.Stories())
	return s, nil
}
