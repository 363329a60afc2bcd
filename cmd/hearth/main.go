// Command hearth is a command line client for a hearth server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ts4z/hearth/config"
	"github.com/ts4z/hearth/logging"
	"github.com/ts4z/hearth/session"
)

// durationFlag is a duration flag that also takes day and week suffixes.
func durationFlag(cmd *cobra.Command, p *time.Duration, name string, def time.Duration, usage string) {
	*p = def
	cmd.Flags().Func(name, usage, func(s string) error {
		d, err := config.ParseDuration(s)
		if err != nil {
			return err
		}
		*p = d
		return nil
	})
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Short:         "hearth client",
		Use:           "hearth",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	loginCmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Log in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(false, login),
	}
	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE:  withApp(false, logout),
	}
	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE:  loggedIn(whoami),
	}
	signupCmd := &cobra.Command{
		Use:   "signup [username]",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(false, signup),
	}
	signupCmd.Flags().StringVar(&signupEmail, "email", "", "Email address")
	signupCmd.Flags().StringVar(&signupFirst, "first", "", "First name")
	signupCmd.Flags().StringVar(&signupLast, "last", "", "Last name")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, signupCmd)

	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the feed",
		RunE:  loggedIn(showFeed),
	}
	feedCmd.Flags().IntVar(&feedPages, "pages", 1, "How many pages to read")
	rootCmd.AddCommand(feedCmd)

	postCmd := &cobra.Command{
		Use:   "post",
		Short: "Create and change posts",
	}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a post",
		RunE:  loggedIn(createPost),
	}
	createCmd.Flags().StringVar(&postContent, "content", "", "Text of the post")
	createCmd.Flags().StringVar(&postFile, "file", "", "Image or video to attach")
	createCmd.Flags().StringVar(&postVisibility, "visibility", "public", "public or private")
	likeCmd := &cobra.Command{
		Use:     "like [id]",
		Aliases: []string{"unlike"},
		Short:   "Toggle your like on a post",
		Args:    cobra.ExactArgs(1),
		RunE:    loggedIn(likePost),
	}
	shareCmd := &cobra.Command{
		Use:   "share [id]",
		Short: "Share a post to your feed",
		Args:  cobra.ExactArgs(1),
		RunE:  loggedIn(sharePost),
	}
	shareCmd.Flags().StringVar(&postContent, "content", "", "Text to add")
	editCmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Replace the text of your post",
		Args:  cobra.ExactArgs(1),
		RunE:  loggedIn(editPost),
	}
	editCmd.Flags().StringVar(&postContent, "content", "", "New text")
	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete your post",
		Args:  cobra.ExactArgs(1),
		RunE:  loggedIn(deletePost),
	}
	postCmd.AddCommand(createCmd, likeCmd, shareCmd, editCmd, deleteCmd)
	rootCmd.AddCommand(postCmd)

	commentCmd := &cobra.Command{
		Use:   "comment",
		Short: "Comment on posts",
	}
	commentCmd.AddCommand(
		&cobra.Command{
			Use:   "add [post] [text...]",
			Short: "Add a comment",
			Args:  cobra.MinimumNArgs(2),
			RunE:  loggedIn(addComment),
		},
		&cobra.Command{
			Use:   "edit [post] [comment] [text...]",
			Short: "Replace the text of your comment",
			Args:  cobra.MinimumNArgs(3),
			RunE:  loggedIn(editComment),
		},
		&cobra.Command{
			Use:   "delete [post] [comment]",
			Short: "Delete your comment",
			Args:  cobra.ExactArgs(2),
			RunE:  loggedIn(deleteComment),
		},
	)
	rootCmd.AddCommand(commentCmd)

	storiesCmd := &cobra.Command{
		Use:   "stories [username]",
		Short: "Show stories, or one user's, optionally posting one first",
		Args:  cobra.MaximumNArgs(1),
		RunE:  loggedIn(stories),
	}
	storiesCmd.Flags().StringVar(&storyFile, "create", "", "Image or video to post as a story")
	rootCmd.AddCommand(storiesCmd)

	friendsCmd := &cobra.Command{
		Use:   "friends",
		Short: "Friends and friend requests",
	}
	friendsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List your friends",
			RunE:  loggedIn(listFriends),
		},
		&cobra.Command{
			Use:   "requests",
			Short: "List requests waiting on you",
			RunE:  loggedIn(listRequests),
		},
		&cobra.Command{
			Use:   "sent",
			Short: "List requests you sent",
			RunE:  loggedIn(listSent),
		},
		&cobra.Command{
			Use:   "send [username]",
			Short: "Send a friend request",
			Args:  cobra.ExactArgs(1),
			RunE:  loggedIn(sendRequest),
		},
		&cobra.Command{
			Use:   "accept [id]",
			Short: "Accept a friend request",
			Args:  cobra.ExactArgs(1),
			RunE:  loggedIn(answerRequest(true)),
		},
		&cobra.Command{
			Use:   "reject [id]",
			Short: "Reject a friend request",
			Args:  cobra.ExactArgs(1),
			RunE:  loggedIn(answerRequest(false)),
		},
	)
	rootCmd.AddCommand(friendsCmd)

	messagesCmd := &cobra.Command{
		Use:   "messages",
		Short: "Direct messages",
	}
	historyCmd := &cobra.Command{
		Use:   "history [username]",
		Short: "Show a conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  loggedIn(history),
	}
	historyCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new messages")
	messagesCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations",
			RunE:  loggedIn(listConversations),
		},
		historyCmd,
		&cobra.Command{
			Use:   "send [username] [text...]",
			Short: "Send a message",
			Args:  cobra.MinimumNArgs(2),
			RunE:  loggedIn(sendMessage),
		},
	)
	rootCmd.AddCommand(messagesCmd)

	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Profiles",
	}
	showCmd := &cobra.Command{
		Use:   "show [username]",
		Short: "Show a profile and its posts",
		Args:  cobra.ExactArgs(1),
		RunE:  loggedIn(showProfile),
	}
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Change your profile",
	}
	updateCmd.RunE = loggedIn(updateProfile(updateCmd))
	updateCmd.Flags().StringVar(&profileBio, "bio", "", "New bio")
	updateCmd.Flags().StringVar(&profileLocation, "location", "", "New location")
	updateCmd.Flags().StringVar(&profilePicture, "picture", "", "New profile picture")
	updateCmd.Flags().StringVar(&profileCover, "cover", "", "New cover photo")
	profileCmd.AddCommand(showCmd, updateCmd)
	rootCmd.AddCommand(profileCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "search [query]",
		Short: "Find users by username",
		Args:  cobra.MinimumNArgs(1),
		RunE:  loggedIn(search),
	})

	keyCmd := &cobra.Command{
		Short: "Manage the keys that seal the saved session",
		Use:   "key",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List current keys and their status",
		RunE:  listKeys,
	}
	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Remove expired keys and add a new key",
		RunE:  rotateKeys,
	}
	durationFlag(rotateCmd, &startOffset, "start-offset", 0, "How long to wait before the key becomes valid (e.g. 24h)")
	durationFlag(rotateCmd, &mintDuration, "mint-duration", session.DefaultMintDuration, "How long the key should be valid for minting (e.g. 180d)")
	durationFlag(rotateCmd, &honorOffset, "honor-offset", session.DefaultHonorOffset, "How long after minting ends to honor the key (e.g. 30d)")
	keyCmd.AddCommand(listCmd, rotateCmd)
	rootCmd.AddCommand(keyCmd)

	return rootCmd
}

func main() {
	undo := logging.Quiet()
	config.Init()

	err := newRootCmd().ExecuteContext(context.Background())
	undo()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
