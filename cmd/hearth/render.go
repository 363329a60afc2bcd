package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ts4z/hearth/model"
	"github.com/ts4z/hearth/session"
	"github.com/ts4z/hearth/textutil"
	"github.com/ts4z/hearth/toast"
)

const previewWidth = 72

func author(u *model.User) string {
	if u == nil {
		return "(unknown)"
	}
	return u.Username
}

func printPost(w io.Writer, now time.Time, p *model.Post) {
	fmt.Fprintf(w, "#%d %s, %s", p.ID, author(p.User), textutil.Ago(now, p.CreatedAt))
	if p.Visibility == model.VisibilityPrivate {
		fmt.Fprint(w, " (private)")
	}
	fmt.Fprintln(w)
	if p.Content != "" {
		fmt.Fprintln(w, textutil.Indent(p.Content, "  "))
	}
	if p.ImageURL != nil {
		fmt.Fprintf(w, "  [image] %s\n", *p.ImageURL)
	}
	if p.VideoURL != nil {
		fmt.Fprintf(w, "  [video] %s\n", *p.VideoURL)
	}
	if sp := p.SharedPost; sp != nil {
		fmt.Fprintf(w, "  shared #%d from %s: %s\n", sp.ID, author(sp.User),
			textutil.Truncate(textutil.OneLine(sp.Content), previewWidth))
	}
	heart := "♡"
	if p.IsLiked {
		heart = "♥"
	}
	fmt.Fprintf(w, "  %s %d  %s\n", heart, p.LikesCount,
		textutil.Plural(len(p.Comments), "comment", "comments"))
	for _, c := range p.Comments {
		fmt.Fprintf(w, "    [%d] %s: %s\n", c.ID, author(c.User),
			textutil.Truncate(textutil.OneLine(c.Content), previewWidth))
	}
}

func printPosts(w io.Writer, now time.Time, posts []*model.Post) {
	if len(posts) == 0 {
		fmt.Fprintln(w, "No posts yet.")
		return
	}
	for i, p := range posts {
		if i > 0 {
			fmt.Fprintln(w)
		}
		printPost(w, now, p)
	}
}

func printUsers(w io.Writer, users []*model.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "Nobody.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "username\tname\n")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\n", u.Username, u.DisplayName())
	}
	tw.Flush()
}

// printRequests lists requests by id, naming the other party.
func printRequests(w io.Writer, now time.Time, reqs []*model.FriendRequest, incoming bool) {
	if len(reqs) == 0 {
		fmt.Fprintln(w, "No requests.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	who := "to"
	if incoming {
		who = "from"
	}
	fmt.Fprintf(tw, "id\t%s\twhen\n", who)
	for _, fr := range reqs {
		other := fr.ToUser
		if incoming {
			other = fr.FromUser
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", fr.ID, author(other), textutil.Ago(now, fr.CreatedAt))
	}
	tw.Flush()
}

func printMessage(w io.Writer, now time.Time, m *model.Message) {
	mark := ""
	if m.IsPending() {
		mark = " (sending)"
	}
	fmt.Fprintf(w, "[%s] %s: %s%s\n", textutil.Ago(now, m.Timestamp), author(m.Sender), m.Content, mark)
}

func printStories(w io.Writer, now time.Time, groups []*model.StoryGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No stories.")
		return
	}
	for _, g := range groups {
		fmt.Fprintf(w, "%s (%s)\n", author(g.User), textutil.Plural(len(g.Stories), "story", "stories"))
		for _, s := range g.Stories {
			url := ""
			if s.FileURL != nil {
				url = *s.FileURL
			}
			fmt.Fprintf(w, "  #%d %s %s\n", s.ID, textutil.Ago(now, s.CreatedAt), url)
		}
	}
}

func printProfile(w io.Writer, p *model.Profile, relationship string) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	if p.User != nil {
		fmt.Fprintf(tw, "user:\t%s\n", p.User.Username)
		fmt.Fprintf(tw, "name:\t%s\n", p.User.DisplayName())
	}
	if p.Bio != "" {
		fmt.Fprintf(tw, "bio:\t%s\n", textutil.OneLine(p.Bio))
	}
	if p.Location != "" {
		fmt.Fprintf(tw, "location:\t%s\n", p.Location)
	}
	fmt.Fprintf(tw, "friends:\t%d\n", p.FriendsCount)
	if p.IsOnline {
		fmt.Fprintf(tw, "online:\tyes\n")
	}
	fmt.Fprintf(tw, "relationship:\t%s\n", relationship)
	tw.Flush()
}

func printToasts(w io.Writer, toasts []toast.Toast) {
	for _, t := range toasts {
		if t.Title != "" {
			fmt.Fprintf(w, "%s: %s: %s\n", t.Level, t.Title, t.Message)
		} else {
			fmt.Fprintf(w, "%s: %s\n", t.Level, t.Message)
		}
	}
}

func printKeys(w io.Writer, now time.Time, kr *session.KeyRing) {
	if len(kr.Keys) == 0 {
		fmt.Fprintln(w, "No keys.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tstatus\tmint from\tmint until\thonor until\n")
	for i, k := range kr.Keys {
		v := k.Validity
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, v.Status(now),
			v.MintFrom.Format(time.RFC3339),
			v.MintUntil.Format(time.RFC3339),
			v.HonorUntil.Format(time.RFC3339))
	}
	tw.Flush()
}
