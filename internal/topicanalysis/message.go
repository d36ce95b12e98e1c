package topicanalysis

import (
	"context"

	"github.com/kittclouds/gokitt/internal/channel"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

// RecipeMessage is the content-addressed payload every channel Entry's
// DataHash points at. Messages are never versioned -- a chat line is
// immutable once appended, which is exactly what the plain object store
// (C3) is for.
const RecipeMessage = "Message"

// RegisterMessageRecipe installs the Message schema. Split out from
// RegisterRecipes because a daemon composing only the channel log without
// the analysis pipeline still needs it.
func RegisterMessageRecipe(reg *recipe.Registry) error {
	return reg.Register(&recipe.Recipe{
		Name: RecipeMessage,
		Rule: []recipe.FieldRule{
			{Name: "author", Type: recipe.TypeString},
			{Name: "text", Type: recipe.TypeString},
			{Name: "createdAt", Type: recipe.TypeInt},
		},
	})
}

func messageToObject(m Message) recipe.Object {
	return recipe.Object{
		"author":    m.Author,
		"text":      m.Text,
		"createdAt": m.CreatedAt,
	}
}

func objectToMessage(obj recipe.Object) Message {
	m := Message{}
	if v, ok := obj["author"].(string); ok {
		m.Author = v
	}
	if v, ok := obj["text"].(string); ok {
		m.Text = v
	}
	if v, ok := obj["createdAt"].(int64); ok {
		m.CreatedAt = v
	}
	return m
}

// PostMessage appends a chat line to the given channel: it stores the
// message body in the object store and chains a new Entry over it.
func PostMessage(ctx context.Context, s *store.Store, log *channel.Log, topicID, ownerID string, msg Message) (store.Hash, error) {
	dataHash, err := s.Put(ctx, RecipeMessage, messageToObject(msg))
	if err != nil {
		return store.Hash{}, err
	}
	return log.Append(ctx, topicID, ownerID, dataHash, msg.CreatedAt)
}

// LoadMessages resolves a slice of channel Entries into their Message
// payloads, skipping (rather than failing) any entry whose blob has been
// quarantined -- a topic's analysis should degrade, not halt, when one
// message is unreadable.
func LoadMessages(ctx context.Context, s *store.Store, entries []channel.Entry) []Message {
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		rec, err := s.Get(ctx, e.DataHash)
		if err != nil {
			continue
		}
		out = append(out, objectToMessage(rec.Obj))
	}
	return out
}
