package notification

import (
	"fmt"
	"math"
	"time"

	"github.com/liftops-portal/internal/domain"
)

// Tab is a filter over the cached notifications.
type Tab string

const (
	TabAll       Tab = "all"
	TabUnread    Tab = "unread"
	TabImportant Tab = "important"
)

// ParseTab validates a tab name. The empty string selects TabAll.
func ParseTab(s string) (Tab, error) {
	switch t := Tab(s); t {
	case "":
		return TabAll, nil
	case TabAll, TabUnread, TabImportant:
		return t, nil
	}
	return "", fmt.Errorf("tab %q: %w", s, domain.ErrBadRequest)
}

// Bucket is a relative-date group label.
type Bucket string

const (
	BucketToday     Bucket = "Today"
	BucketYesterday Bucket = "Yesterday"
	BucketThisWeek  Bucket = "This week"
	BucketOlder     Bucket = "Older"
)

var bucketOrder = []Bucket{BucketToday, BucketYesterday, BucketThisWeek, BucketOlder}

// Group is one non-empty date bucket of a view.
type Group struct {
	Label Bucket                `json:"label"`
	Items []domain.Notification `json:"items"`
}

// View is the grouped, filtered projection of the cache for one tab.
type View struct {
	Tab         Tab     `json:"tab"`
	Groups      []Group `json:"groups"`
	Total       int     `json:"total"`
	UnreadCount int     `json:"unread_count"`
}

// Filter keeps the entries matching tab, preserving order.
func Filter(items []domain.Notification, tab Tab) []domain.Notification {
	out := make([]domain.Notification, 0, len(items))
	for _, n := range items {
		switch tab {
		case TabUnread:
			if n.Read {
				continue
			}
		case TabImportant:
			if !n.Important {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// BucketFor classifies createdAt by calendar-day distance from now, in now's
// location. Future timestamps count as today.
func BucketFor(createdAt, now time.Time) Bucket {
	loc := now.Location()
	days := calendarDays(createdAt.In(loc), now)
	switch {
	case days <= 0:
		return BucketToday
	case days == 1:
		return BucketYesterday
	case days <= 7:
		return BucketThisWeek
	default:
		return BucketOlder
	}
}

func calendarDays(from, to time.Time) int {
	y, m, d := from.Date()
	a := time.Date(y, m, d, 0, 0, 0, 0, to.Location())
	y, m, d = to.Date()
	b := time.Date(y, m, d, 0, 0, 0, 0, to.Location())
	// Rounding absorbs 23h/25h days around DST switches.
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// Project filters items by tab and groups them into date buckets. Buckets
// appear in fixed order, empty ones are omitted, and entries keep their
// cache order inside a bucket.
func Project(items []domain.Notification, unreadCount int, tab Tab, now time.Time) View {
	filtered := Filter(items, tab)
	byBucket := make(map[Bucket][]domain.Notification, len(bucketOrder))
	for _, n := range filtered {
		b := BucketFor(n.CreatedAt, now)
		byBucket[b] = append(byBucket[b], n)
	}
	v := View{Tab: tab, Total: len(filtered), UnreadCount: unreadCount, Groups: []Group{}}
	for _, b := range bucketOrder {
		if len(byBucket[b]) == 0 {
			continue
		}
		v.Groups = append(v.Groups, Group{Label: b, Items: byBucket[b]})
	}
	return v
}
