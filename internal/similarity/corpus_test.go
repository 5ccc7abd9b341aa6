package similarity

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/config"
)

var topics = []struct {
	name    string
	content string
}{
	{"python", "Python is a high-level programming language. Python programming language is used for web development and data science and scripting of everyday tasks."},
	{"kubernetes", "Kubernetes is an open-source container orchestration platform. Kubernetes container orchestration automates deployment and scaling of workloads across clusters."},
	{"react", "React is a JavaScript library for interfaces. React hooks and components enable building user interfaces from small reusable pieces of state and markup."},
	{"go", "Go is a statically typed language from Google. Go golang concurrency is achieved with goroutines and channels and a small standard runtime."},
	{"postgres", "PostgreSQL is an advanced relational database. PostgreSQL relational database supports JSON documents and full-text search and strong transactional guarantees."},
	{"docker", "Docker enables building and shipping applications. Docker container images are portable across environments and start quickly on any host machine."},
	{"ml", "Machine learning is a subset of artificial intelligence. Machine learning algorithms learn patterns from labelled data and generalize to unseen examples."},
	{"rest", "REST is an architectural style for network APIs. REST API endpoints use HTTP methods and status codes to expose resources to clients."},
	{"redis", "Redis is an in-memory data store. Redis in-memory cache is used for sessions and caching and simple queues between services."},
	{"terraform", "Terraform manages cloud infrastructure from configuration. Terraform infrastructure as code is declarative and plans changes before applying them."},
}

var variants = []string{
	"Notes from the weekly reading group.",
	"Summary written after the conference talk.",
	"Draft outline for an internal wiki page.",
}

// topicCorpus returns one document per topic and variant; documents of a topic
// share their body and differ in a closing sentence.
func topicCorpus() *memStore {
	store := newMemStore()
	for _, tp := range topics {
		for i, v := range variants {
			store.put(fmt.Sprintf("%s/%d.md", tp.name, i), tp.content+" "+v)
		}
	}
	return store
}

func topicOf(id string) string {
	topic, _, _ := strings.Cut(id, "/")
	return topic
}

func TestTopicCorpus_minhashRelatedStayOnTopic(t *testing.T) {
	var sc config.SimilarityConfig
	config.ApplySimilarityDefaults(&sc)
	e := newEngine(t, sc, topicCorpus())
	_, err := e.Initialize(context.Background(), nil)
	require.NoError(t, err)

	for _, tp := range topics {
		for i := range variants {
			id := fmt.Sprintf("%s/%d.md", tp.name, i)
			related := e.Related(id, 2)
			require.Len(t, related, 2, id)
			for _, r := range related {
				assert.Equal(t, tp.name, topicOf(r.ID), "%s related to %s", id, r.ID)
			}
		}
	}
}

func TestTopicCorpus_simhashSeparatesTopics(t *testing.T) {
	sc := config.SimilarityConfig{Family: config.FamilySimHash}
	config.ApplySimilarityDefaults(&sc)
	e := newEngine(t, sc, topicCorpus())
	ctx := context.Background()
	_, err := e.Initialize(ctx, nil)
	require.NoError(t, err)

	var same, cross []float64
	for a := range topics {
		for b := range topics {
			score, err := e.ComputeSimilarity(ctx, fmt.Sprintf("%s/0.md", topics[a].name), fmt.Sprintf("%s/1.md", topics[b].name))
			require.NoError(t, err)
			if a == b {
				same = append(same, score)
			} else {
				cross = append(cross, score)
			}
		}
	}
	assert.Greater(t, mean(same), mean(cross)+0.15, "same-topic %v", same)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
