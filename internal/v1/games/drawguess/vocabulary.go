package drawguess

// category groups words under a common theme. The vocabulary is fixed and
// closed; picking a word draws uniformly from the flattened word list
// across every category (spec §4.7.3).
type category struct {
	name  string
	words []string
}

var vocabulary = []category{
	{name: "animals", words: []string{"cat", "dog", "elephant", "giraffe", "penguin", "octopus", "kangaroo"}},
	{name: "food", words: []string{"pizza", "banana", "sandwich", "pretzel", "avocado", "burrito"}},
	{name: "objects", words: []string{"umbrella", "telescope", "bicycle", "lantern", "anchor", "compass"}},
	{name: "nature", words: []string{"volcano", "glacier", "rainbow", "waterfall", "meteor"}},
}

var allWords = func() []string {
	out := make([]string, 0)
	for _, c := range vocabulary {
		out = append(out, c.words...)
	}
	return out
}()
