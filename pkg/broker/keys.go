package broker

import "fmt"

// Key namespacing follows spec.md §6 exactly: "sitesearch:queue:*",
// "sitesearch:processing:*", "sitesearch:completed:*", "sitesearch:failed:*",
// "sitesearch:last_activity:*", "sitesearch:processing_times:*",
// "crawler:crawled_urls:{queue_key}". A task's dedicated queue is the
// queue named by TaskQueueName under the "sitesearch:queue:*" prefix.

const namespace = "sitesearch"

func pendingKey(queue string) string         { return fmt.Sprintf("%s:queue:%s", namespace, queue) }
func processingKey(queue string) string      { return fmt.Sprintf("%s:processing:%s", namespace, queue) }
func completedKey(queue string) string        { return fmt.Sprintf("%s:completed:%s", namespace, queue) }
func failedKey(queue string) string          { return fmt.Sprintf("%s:failed:%s", namespace, queue) }
func lastActivityKey(queue string) string    { return fmt.Sprintf("%s:last_activity:%s", namespace, queue) }
func processingTimesKey(queue string) string { return fmt.Sprintf("%s:processing_times:%s", namespace, queue) }

// TaskQueueName returns the logical queue name for a task's dedicated
// input queue, "task:{id}:queue"; its pending list is stored at
// "sitesearch:queue:task:{id}:queue".
func TaskQueueName(taskID string) string {
	return fmt.Sprintf("task:%s:queue", taskID)
}

// CrawledURLsKey returns the broker set key tracking URLs already
// crawled for a task's queue, "crawler:crawled_urls:{queue_key}".
func CrawledURLsKey(queueKey string) string {
	return fmt.Sprintf("crawler:crawled_urls:%s", queueKey)
}

// DocStoreKey returns the per-site chunk document-store hash key used
// by the indexer (spec.md §4.3): "sitesearch:{site_id}:docs".
func DocStoreKey(siteID string) string {
	return fmt.Sprintf("%s:%s:docs", namespace, siteID)
}
