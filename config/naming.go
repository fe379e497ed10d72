package config

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sanitize folds s to lowercase ASCII letters, digits and underscores so it
// can be used in slot, queue and exchange names. Accents are dropped and any
// other run of characters becomes a single underscore.
func Sanitize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore && b.Len() > 0 {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// Broker is the exchange, queue and dead letter topology of one task.
type Broker struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DLXExchange   string
	DLXQueue      string
	DLXRoutingKey string
}

func (c *Config) Broker() Broker {
	task := Sanitize(c.Task.Name)
	prefix := c.RabbitMQ.Prefix
	return Broker{
		Exchange:      prefix + "_exchange_" + task,
		Queue:         prefix + "_queue_" + task,
		RoutingKey:    prefix + "_routing_key_" + task,
		DLXExchange:   prefix + "_dlx_exchange_" + task,
		DLXQueue:      "dlx_queue_" + task,
		DLXRoutingKey: "dlx." + task,
	}
}

func (c *Config) SlotName() string {
	return c.Source.SlotPrefix + "_" + Sanitize(c.Task.Name)
}

// TrackedTables lists the schema.table identities the task replicates.
func (c *Config) TrackedTables() []string {
	out := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		out[i] = t.Identity()
	}
	return out
}
