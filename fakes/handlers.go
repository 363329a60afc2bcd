package fakes

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/password"
)

func contextWithUser(r *http.Request, uid int64) context.Context {
	return context.WithValue(r.Context(), ctxKey{}, uid)
}

func viewer(r *http.Request) int64 {
	uid, _ := r.Context().Value(ctxKey{}).(int64)
	return uid
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	uid, ok := a.byName[body["username"]]
	if !ok || password.Check(a.users[uid].pwHash, body["password"]) != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"non_field_errors": {"Unable to log in with provided credentials."},
		})
		return
	}
	writeJSON(w, http.StatusOK, model.TokenResponse{Token: a.mintTokenLocked(uid)})
}

func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	fields := map[string][]string{}
	if body["username"] == "" {
		fields["username"] = []string{"This field is required."}
	} else if _, taken := a.byName[body["username"]]; taken {
		fields["username"] = []string{"A user with that username already exists."}
	}
	if body["password"] == "" {
		fields["password"] = []string{"This field is required."}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}
	u := a.addUserLocked(model.Signup{
		Username:  body["username"],
		Email:     body["email"],
		Password:  body["password"],
		FirstName: body["first_name"],
		LastName:  body["last_name"],
	})
	writeJSON(w, http.StatusCreated, a.renderUser(u, true))
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	writeJSON(w, http.StatusOK, a.renderUser(a.users[viewer(r)], true))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("search"))
	unlock := a.Lock()
	defer unlock()
	out := []*model.User{}
	for _, id := range a.userIDsLocked() {
		u := a.users[id]
		hay := strings.ToLower(u.user.Username + " " + u.user.FirstName + " " + u.user.LastName)
		if q == "" || strings.Contains(hay, q) {
			out = append(out, a.renderUser(u, false))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) userIDsLocked() []int64 {
	ids := make([]int64, 0, len(a.users))
	for id := range a.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// visiblePostsLocked is public posts plus the viewer's own, newest first.
func (a *API) visiblePostsLocked(uid int64) []*fakePost {
	out := []*fakePost{}
	for _, p := range a.posts {
		if p.post.Visibility == model.VisibilityPublic || p.post.User.ID == uid {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].post.ID > out[j].post.ID })
	return out
}

func (a *API) listPosts(w http.ResponseWriter, r *http.Request) {
	page := 1
	if s := r.URL.Query().Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid page."})
			return
		}
		page = n
	}
	unlock := a.Lock()
	defer unlock()
	uid := viewer(r)
	all := a.visiblePostsLocked(uid)
	size := a.PageSize
	if size < 1 {
		size = 10
	}
	start := (page - 1) * size
	if start >= len(all) && page != 1 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid page."})
		return
	}
	end := min(start+size, len(all))
	resp := model.Page[*model.Post]{Count: len(all), Results: []*model.Post{}}
	for _, p := range all[start:end] {
		resp.Results = append(resp.Results, a.renderPost(p, uid))
	}
	pageURL := func(n int) *string {
		s := fmt.Sprintf("http://%s/api/posts/?page=%d", r.Host, n)
		return &s
	}
	if end < len(all) {
		resp.Next = pageURL(page + 1)
	}
	if page > 1 {
		resp.Previous = pageURL(page - 1)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) postFor(w http.ResponseWriter, r *http.Request) *fakePost {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return nil
	}
	p, ok := a.posts[id]
	uid := viewer(r)
	if !ok || (p.post.Visibility != model.VisibilityPublic && p.post.User.ID != uid) {
		notFound(w)
		return nil
	}
	return p
}

func (a *API) getPost(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	if p := a.postFor(w, r); p != nil {
		writeJSON(w, http.StatusOK, a.renderPost(p, viewer(r)))
	}
}

func (a *API) createPost(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	p := a.addPostLocked(viewer(r), body["content"], body["visibility"])
	if img, ok := body["image"]; ok {
		p.post.ImageURL = &img
	}
	if vid, ok := body["video"]; ok {
		p.post.VideoURL = &vid
	}
	writeJSON(w, http.StatusCreated, a.renderPost(p, viewer(r)))
}

func (a *API) editPost(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	p := a.postFor(w, r)
	if p == nil {
		return
	}
	if p.post.User.ID != viewer(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
		return
	}
	if c, ok := body["content"]; ok {
		p.post.Content = c
	}
	writeJSON(w, http.StatusOK, a.renderPost(p, viewer(r)))
}

func (a *API) deletePost(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	p := a.postFor(w, r)
	if p == nil {
		return
	}
	if p.post.User.ID != viewer(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
		return
	}
	delete(a.posts, p.post.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) like(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	p := a.postFor(w, r)
	if p == nil {
		return
	}
	uid := viewer(r)
	status := "liked"
	if p.likes[uid] {
		delete(p.likes, uid)
		status = "unliked"
	} else {
		p.likes[uid] = true
	}
	writeJSON(w, http.StatusOK, model.LikeResult{Status: status, LikesCount: len(p.likes)})
}

func (a *API) comment(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	p := a.postFor(w, r)
	if p == nil {
		return
	}
	if strings.TrimSpace(body["content"]) == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"content": {"This field may not be blank."}})
		return
	}
	c := &fakeComment{
		comment: model.Comment{ID: a.id(), Content: body["content"], CreatedAt: a.Now().UTC()},
		postID:  p.post.ID,
		userID:  viewer(r),
	}
	a.comments[c.comment.ID] = c
	p.comments = append(p.comments, c.comment.ID)
	writeJSON(w, http.StatusCreated, a.renderComment(c))
}

func (a *API) share(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	orig := a.postFor(w, r)
	if orig == nil {
		return
	}
	if orig.sharedID != 0 {
		if o, ok := a.posts[orig.sharedID]; ok {
			orig = o
		}
	}
	p := a.addPostLocked(viewer(r), body["content"], model.VisibilityPublic)
	p.sharedID = orig.post.ID
	writeJSON(w, http.StatusCreated, a.renderPost(p, viewer(r)))
}

func (a *API) commentFor(w http.ResponseWriter, r *http.Request) *fakeComment {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return nil
	}
	c, ok := a.comments[id]
	if !ok {
		notFound(w)
		return nil
	}
	if c.userID != viewer(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
		return nil
	}
	return c
}

func (a *API) editComment(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	if c := a.commentFor(w, r); c != nil {
		c.comment.Content = body["content"]
		writeJSON(w, http.StatusOK, a.renderComment(c))
	}
}

func (a *API) deleteComment(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	c := a.commentFor(w, r)
	if c == nil {
		return
	}
	delete(a.comments, c.comment.ID)
	if p, ok := a.posts[c.postID]; ok {
		kept := p.comments[:0]
		for _, id := range p.comments {
			if id != c.comment.ID {
				kept = append(kept, id)
			}
		}
		p.comments = kept
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listStories(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	cutoff := a.Now().Add(-24 * time.Hour)
	out := []*model.Story{}
	for _, s := range a.stories {
		if !s.CreatedAt.Before(cutoff) {
			out = append(out, a.renderStory(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	writeJSON(w, http.StatusOK, out)
}

func (a *API) createStory(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	file, ok := body["file"]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"file": {"No file was submitted."}})
		return
	}
	s := &model.Story{
		ID:        a.id(),
		User:      &model.User{ID: viewer(r)},
		FileURL:   &file,
		CreatedAt: a.Now().UTC(),
		IsActive:  true,
	}
	a.stories = append(a.stories, s)
	writeJSON(w, http.StatusCreated, a.renderStory(s))
}

func (a *API) requestsWhere(match func(*model.FriendRequest) bool) []*model.FriendRequest {
	out := []*model.FriendRequest{}
	for _, fr := range a.requests {
		if match(fr) {
			out = append(out, a.renderRequest(fr))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *API) incoming(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	uid := viewer(r)
	writeJSON(w, http.StatusOK, a.requestsWhere(func(fr *model.FriendRequest) bool { return fr.ToUser.ID == uid }))
}

func (a *API) sent(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	uid := viewer(r)
	writeJSON(w, http.StatusOK, a.requestsWhere(func(fr *model.FriendRequest) bool { return fr.FromUser.ID == uid }))
}

func (a *API) listFriends(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	out := []*model.User{}
	for _, id := range sortedIDs(a.users[viewer(r)].friends) {
		out = append(out, a.renderUser(a.users[id], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) send(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	name := body["username"]
	if name == "" {
		writeError(w, http.StatusBadRequest, "Username required")
		return
	}
	to, ok := a.byName[name]
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	from := viewer(r)
	if to == from {
		writeError(w, http.StatusBadRequest, "Cannot add yourself")
		return
	}
	for _, fr := range a.requests {
		if fr.FromUser.ID == from && fr.ToUser.ID == to {
			writeError(w, http.StatusBadRequest, "Request already sent")
			return
		}
	}
	a.addRequestLocked(from, to)
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// requestFor finds a request addressed to the viewer.  Like the real
// server, only incoming requests are visible here.
func (a *API) requestFor(w http.ResponseWriter, r *http.Request) *model.FriendRequest {
	id, ok := pathID(r)
	if !ok {
		notFound(w)
		return nil
	}
	fr, ok := a.requests[id]
	if !ok || fr.ToUser.ID != viewer(r) {
		notFound(w)
		return nil
	}
	return fr
}

func (a *API) accept(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	fr := a.requestFor(w, r)
	if fr == nil {
		return
	}
	a.users[fr.ToUser.ID].friends[fr.FromUser.ID] = true
	a.users[fr.FromUser.ID].friends[fr.ToUser.ID] = true
	delete(a.requests, fr.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (a *API) reject(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	fr := a.requestFor(w, r)
	if fr == nil {
		return
	}
	delete(a.requests, fr.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (a *API) conversations(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	uid := viewer(r)
	seen := map[int64]bool{}
	for _, m := range a.messages {
		if m.Sender.ID == uid {
			seen[m.Receiver.ID] = true
		}
		if m.Receiver.ID == uid {
			seen[m.Sender.ID] = true
		}
	}
	out := []*model.User{}
	for _, id := range sortedIDs(seen) {
		out = append(out, a.simpleUser(id))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("username")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Username required")
		return
	}
	unlock := a.Lock()
	defer unlock()
	other, ok := a.byName[name]
	if !ok {
		notFound(w)
		return
	}
	uid := viewer(r)
	out := []*model.Message{}
	for _, m := range a.messages {
		if (m.Sender.ID == uid && m.Receiver.ID == other) || (m.Sender.ID == other && m.Receiver.ID == uid) {
			out = append(out, a.renderMessage(m))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	to, ok := a.byName[body["to_username"]]
	if !ok {
		notFound(w)
		return
	}
	uid := viewer(r)
	if !a.users[uid].friends[to] {
		writeJSON(w, http.StatusBadRequest, []string{"You can only message friends."})
		return
	}
	if strings.TrimSpace(body["content"]) == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"content": {"This field may not be blank."}})
		return
	}
	m := a.addMessageLocked(uid, to, body["content"])
	writeJSON(w, http.StatusCreated, a.renderMessage(m))
}

func (a *API) profileUser(w http.ResponseWriter, r *http.Request) *fakeUser {
	uid, ok := a.byName[chi.URLParam(r, "username")]
	if !ok {
		notFound(w)
		return nil
	}
	return a.users[uid]
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	if u := a.profileUser(w, r); u != nil {
		writeJSON(w, http.StatusOK, a.renderProfile(u, true))
	}
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	unlock := a.Lock()
	defer unlock()
	u := a.profileUser(w, r)
	if u == nil {
		return
	}
	if u.user.ID != viewer(r) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
		return
	}
	if v, ok := body["bio"]; ok {
		u.bio = v
	}
	if v, ok := body["location"]; ok {
		u.location = v
	}
	if v, ok := body["profile_picture"]; ok {
		u.picture = &v
	}
	if v, ok := body["cover_photo"]; ok {
		u.cover = &v
	}
	writeJSON(w, http.StatusOK, a.renderProfile(u, true))
}

func (a *API) profilePosts(w http.ResponseWriter, r *http.Request) {
	unlock := a.Lock()
	defer unlock()
	u := a.profileUser(w, r)
	if u == nil {
		return
	}
	out := []*model.Post{}
	for _, p := range a.visiblePostsLocked(viewer(r)) {
		if p.post.User.ID == u.user.ID && p.post.Visibility == model.VisibilityPublic {
			out = append(out, a.renderPost(p, viewer(r)))
		}
	}
	writeJSON(w, http.StatusOK, out)
}
