package blob

import (
	"fmt"
	"time"
)

// Keyspace layout. All date components are derived in UTC.
//
//	clips/{clip_id}.json
//	audio/{clip_id}.wav
//	transcripts/{clip_id}.{json|txt|vtt|ok}
//	events/{YYYY}/{MM}/{DD}/{delivery_id}.json
//	github-context/{clip_id}.json
//	content-items/{YYYY}/{MM}/{clip_id}.json
//	manifests/{YYYY}/{MM}/{post_id}.json
//	blog-posts/{post_id}.md

// ClipKey returns the key for a raw clip record.
func ClipKey(clipID string) string {
	return "clips/" + clipID + ".json"
}

// AudioKey returns the key for a clip's extracted audio.
func AudioKey(clipID string) string {
	return "audio/" + clipID + ".wav"
}

// TranscriptKey returns the key for one of the sibling transcript artifacts.
// ext is "json", "txt", "vtt", or "ok".
func TranscriptKey(clipID, ext string) string {
	return "transcripts/" + clipID + "." + ext
}

// EventKey returns the key for a repository event, bucketed by event-time.
func EventKey(eventTime time.Time, deliveryID string) string {
	t := eventTime.UTC()
	return fmt.Sprintf("events/%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), deliveryID)
}

// EventDayPrefix returns the listing prefix for a single UTC day of events.
func EventDayPrefix(day time.Time) string {
	t := day.UTC()
	return fmt.Sprintf("events/%04d/%02d/%02d/", t.Year(), t.Month(), t.Day())
}

// GitHubContextKey returns the key for a clip's correlation record.
func GitHubContextKey(clipID string) string {
	return "github-context/" + clipID + ".json"
}

// ContentItemKey returns the key for a content item, bucketed by the clip's
// creation month.
func ContentItemKey(clipCreatedAt time.Time, clipID string) string {
	t := clipCreatedAt.UTC()
	return fmt.Sprintf("content-items/%04d/%02d/%s.json", t.Year(), t.Month(), clipID)
}

// ContentItemMonthPrefix returns the listing prefix for one UTC month of
// content items.
func ContentItemMonthPrefix(year int, month time.Month) string {
	return fmt.Sprintf("content-items/%04d/%02d/", year, month)
}

// ManifestKey returns the key for a day's manifest. postID is "YYYY-MM-DD";
// the bucket is derived from the post date itself.
func ManifestKey(postDate time.Time, postID string) string {
	t := postDate.UTC()
	return fmt.Sprintf("manifests/%04d/%02d/%s.json", t.Year(), t.Month(), postID)
}

// BlogPostKey returns the key for a rendered Markdown article.
func BlogPostKey(postID string) string {
	return "blog-posts/" + postID + ".md"
}
