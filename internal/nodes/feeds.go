package nodes

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/rendis/socialflow/internal/expressions"
	"github.com/rendis/socialflow/pkg/schema"
)

// DefaultFeedSource extracts the feed list from a raw search response or a
// previous filter_feeds output.
const DefaultFeedSource = `.raw.data.feeds // .feeds // []`

// DefaultMaxPosts caps filter_feeds output when maxPosts is unset.
const DefaultMaxPosts = 5

// Feed is the normalized form of a platform post.
type Feed struct {
	ID        string `json:"id"`
	XsecToken string `json:"xsecToken"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	AuthorID  string `json:"authorId"`
	Likes     int    `json:"likes"`
}

// FilterFeedsOutput is produced by filter_feeds.
type FilterFeedsOutput struct {
	Feeds    []Feed `json:"feeds"`
	Filtered int    `json:"filtered"`
	Total    int    `json:"total"`
}

type filterFeedsConfig struct {
	Source      string   `json:"source"`
	Where       string   `json:"where"`
	MaxPosts    int      `json:"maxPosts"`
	MinLikes    *int     `json:"minLikes"`
	MaxLikes    *int     `json:"maxLikes"`
	SkipAuthors []string `json:"skipAuthors"`
}

type filterFeedsNode struct {
	jq  *expressions.GoJQEngine
	cel *expressions.CELEngine
}

func (n *filterFeedsNode) Type() string { return "filter_feeds" }

func (n *filterFeedsNode) Run(ctx context.Context, ec ExecutionContext, input any) (any, error) {
	var cfg filterFeedsConfig
	if err := Decode(ec, input, &cfg); err != nil {
		return nil, err
	}
	if cfg.Source == "" {
		cfg.Source = DefaultFeedSource
	}
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = DefaultMaxPosts
	}

	extracted, err := n.jq.EvaluateValue(ctx, cfg.Source, input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "source: %s", err.Error()).WithNode(ec.NodeID).WithCause(err)
	}
	rawFeeds, _ := extracted.([]any)

	var feeds []Feed
	for _, raw := range rawFeeds {
		if f, ok := normalizeFeed(raw); ok {
			feeds = append(feeds, f)
		}
	}

	out := FilterFeedsOutput{Feeds: []Feed{}, Total: len(feeds)}
	for _, f := range feeds {
		if len(out.Feeds) >= cfg.MaxPosts {
			break
		}
		keep, err := n.keep(ctx, cfg, f)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "where: %s", err.Error()).WithNode(ec.NodeID).WithCause(err)
		}
		if keep {
			out.Feeds = append(out.Feeds, f)
		}
	}
	out.Filtered = len(out.Feeds)

	ec.Log().Info("filtered feeds", "total", out.Total, "filtered", out.Filtered)
	return out, nil
}

func (n *filterFeedsNode) keep(ctx context.Context, cfg filterFeedsConfig, f Feed) (bool, error) {
	if f.Title == "" {
		return false, nil
	}
	if cfg.MinLikes != nil && f.Likes < *cfg.MinLikes {
		return false, nil
	}
	if cfg.MaxLikes != nil && f.Likes > *cfg.MaxLikes {
		return false, nil
	}
	if slices.Contains(cfg.SkipAuthors, f.AuthorID) {
		return false, nil
	}
	if cfg.Where == "" {
		return true, nil
	}
	feedMap, err := schema.Normalize(f)
	if err != nil {
		return false, err
	}
	res, err := n.cel.Evaluate(ctx, cfg.Where, map[string]any{"feed": feedMap})
	if err != nil {
		return false, err
	}
	return expressions.Truthy(res), nil
}

// normalizeFeed accepts both the raw search shape (noteCard nesting) and the
// flat Feed shape. Entries without an id or token are dropped.
func normalizeFeed(raw any) (Feed, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Feed{}, false
	}
	f := Feed{
		ID:        str(m["id"]),
		XsecToken: firstNonEmpty(str(m["xsecToken"]), str(m["xsec_token"])),
		Title:     firstNonEmpty(str(dig(m, "noteCard", "displayTitle")), str(m["title"])),
		Author:    firstNonEmpty(str(dig(m, "noteCard", "user", "nickname")), str(m["author"]), "Unknown"),
		AuthorID:  firstNonEmpty(str(dig(m, "noteCard", "user", "userId")), str(m["authorId"]), str(m["userId"])),
	}
	for _, v := range []any{dig(m, "noteCard", "interactInfo", "likedCount"), m["likedCount"], m["likes"]} {
		if n, ok := leadingInt(v); ok {
			f.Likes = n
			break
		}
	}
	if f.ID == "" || f.XsecToken == "" {
		return Feed{}, false
	}
	return f, true
}

func dig(m map[string]any, path ...string) any {
	var cur any = m
	for _, p := range path {
		next, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = next[p]
	}
	return cur
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// leadingInt parses numbers and numeric prefixes such as "1200" or "3k".
func leadingInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		t = strings.TrimSpace(t)
		end := strings.IndexFunc(t, func(r rune) bool { return !unicode.IsDigit(r) })
		if end == -1 {
			end = len(t)
		}
		if end == 0 {
			return 0, false
		}
		n, err := strconv.Atoi(t[:end])
		return n, err == nil
	}
	return 0, false
}

// DefaultCommentTemplates are used by batch_engage when none are configured.
var DefaultCommentTemplates = []string{
	"很棒的分享！",
	"学到了，谢谢分享",
	"说得太好了",
	"收藏了，感谢",
	"很有帮助的内容",
	"这个内容很实用",
	"感谢博主分享",
	"很有启发",
}

type batchEngageConfig struct {
	Feeds            []Feed          `json:"feeds"`
	Like             *bool           `json:"like"`
	Comment          *bool           `json:"comment"`
	CommentTemplates []string        `json:"commentTemplates"`
	Platform         schema.Platform `json:"platform"`
	UserID           string          `json:"userId"`
	WorkspaceID      string          `json:"workspaceId"`
	BaseURL          string          `json:"baseUrl"`
}

type batchEngageNode struct{}

func (batchEngageNode) Type() string { return "batch_engage" }

// Run emits a like and a comment action per feed. Comments rotate through
// the templates in feed order.
func (batchEngageNode) Run(_ context.Context, ec ExecutionContext, input any) (any, error) {
	var cfg batchEngageConfig
	if err := Decode(ec, input, &cfg); err != nil {
		return nil, err
	}
	if cfg.Platform == "" {
		cfg.Platform = schema.PlatformXiaohongshu
	}
	templates := cfg.CommentTemplates
	if len(templates) == 0 {
		templates = DefaultCommentTemplates
	}
	like := cfg.Like == nil || *cfg.Like
	comment := cfg.Comment == nil || *cfg.Comment

	var actions []schema.ActionRequest
	likes, comments := 0, 0
	for i, f := range cfg.Feeds {
		base := map[string]any{"feedId": f.ID, "xsecToken": f.XsecToken}
		if cfg.BaseURL != "" {
			base["baseUrl"] = cfg.BaseURL
		}
		if like {
			payload := clonePayload(base)
			payload["like"] = true
			actions = append(actions, completeAction(ec, schema.ActionRequest{
				UserID: cfg.UserID, WorkspaceID: cfg.WorkspaceID,
				Platform: cfg.Platform, Action: schema.ActionLikePost, Mode: schema.ModeAPI,
				Payload: payload,
			}))
			likes++
		}
		if comment {
			payload := clonePayload(base)
			payload["content"] = templates[i%len(templates)]
			actions = append(actions, completeAction(ec, schema.ActionRequest{
				UserID: cfg.UserID, WorkspaceID: cfg.WorkspaceID,
				Platform: cfg.Platform, Action: schema.ActionCommentPost, Mode: schema.ModeAPI,
				Payload: payload,
			}))
			comments++
		}
	}

	ec.Log().Info("batch engage", "feeds", len(cfg.Feeds), "likes", likes, "comments", comments)
	return &schema.ActionDispatch{
		Type:    schema.DispatchActionBatch,
		Actions: actions,
		Summary: map[string]any{
			"totalFeeds":     len(cfg.Feeds),
			"likeActions":    likes,
			"commentActions": comments,
		},
	}, nil
}

func clonePayload(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
