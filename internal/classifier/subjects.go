package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"modelrouter/internal/common/fsutil"
)

// Subject is a named specialization with its keyword list and exemplar
// queries.
type Subject struct {
	Name      string   `json:"name" yaml:"name" toml:"name"`
	Keywords  []string `json:"keywords" yaml:"keywords" toml:"keywords"`
	Exemplars []string `json:"exemplars" yaml:"exemplars" toml:"exemplars"`
}

type subjectsFile struct {
	Subjects []Subject `json:"subjects" yaml:"subjects" toml:"subjects"`
}

// LoadSubjects reads a subjects file; the decoder is chosen by extension.
func LoadSubjects(path string) ([]Subject, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var f subjectsFile
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &f)
	case ".toml":
		err = toml.Unmarshal(b, &f)
	case ".json":
		err = json.Unmarshal(b, &f)
	default:
		return nil, fmt.Errorf("unsupported subjects file extension: %s", filepath.Ext(p))
	}
	if err != nil {
		return nil, fmt.Errorf("subjects %s: %w", filepath.Base(p), err)
	}
	for i := range f.Subjects {
		f.Subjects[i].Name = strings.ToLower(strings.TrimSpace(f.Subjects[i].Name))
		for j, k := range f.Subjects[i].Keywords {
			f.Subjects[i].Keywords[j] = strings.ToLower(k)
		}
	}
	if err := validateSubjects(f.Subjects); err != nil {
		return nil, fmt.Errorf("subjects %s: %w", filepath.Base(p), err)
	}
	return f.Subjects, nil
}

func validateSubjects(subjects []Subject) error {
	if len(subjects) == 0 {
		return fmt.Errorf("no subjects configured")
	}
	seen := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		if s.Name == "" {
			return fmt.Errorf("subject with empty name")
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate subject %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

func names(subjects []Subject) []string {
	out := make([]string, len(subjects))
	for i, s := range subjects {
		out[i] = s.Name
	}
	return out
}

// DefaultSubjects returns the built-in subject set.
func DefaultSubjects() []Subject {
	return []Subject{
		{
			Name: "math",
			Keywords: []string{"math", "calculate", "equation", "solve", "integral", "derivative", "algebra",
				"geometry", "sum", "plus", "minus", "multiply", "divide", "fraction", "percent", "theorem",
				"probability", "square root", "matrix", "+", "*", "="},
			Exemplars: []string{
				"What is 12 + 7?",
				"Calculate 45 * 3",
				"Solve the equation 2x + 5 = 11",
				"Find the derivative of x squared",
				"What is the integral of sin x?",
				"What is the probability of rolling two sixes?",
			},
		},
		{
			Name: "programming",
			Keywords: []string{"code", "program", "programming", "function", "python", "javascript", "golang",
				"java", "bug", "debug", "compile", "compiler", "algorithm", "api", "variable", "loop",
				"recursion", "sql", "database", "class", "software"},
			Exemplars: []string{
				"How do I reverse a list in Python?",
				"Write a function that sorts an array",
				"Why does my JavaScript code throw undefined?",
				"Explain recursion with an example program",
				"How do I write a SQL join query?",
				"What is the difference between a class and an interface?",
			},
		},
		{
			Name: "science",
			Keywords: []string{"science", "physics", "chemistry", "biology", "atom", "molecule", "energy",
				"cell", "gravity", "photosynthesis", "experiment", "evolution", "dna", "quantum", "planet",
				"electron", "species", "reaction"},
			Exemplars: []string{
				"How does photosynthesis work?",
				"What is quantum entanglement?",
				"Explain the structure of DNA",
				"Why do planets orbit the sun?",
				"What happens in a chemical reaction?",
				"How does natural selection drive evolution?",
			},
		},
		{
			Name: "history",
			Keywords: []string{"history", "historical", "war", "century", "empire", "revolution", "ancient",
				"king", "queen", "emperor", "president", "treaty", "dynasty", "civilization", "battle",
				"medieval"},
			Exemplars: []string{
				"What caused the French Revolution?",
				"Who was the first Roman emperor?",
				"Why did the Roman Empire fall?",
				"Describe the causes of the First World War",
				"What was the Ming dynasty known for?",
				"How did ancient Egyptian civilization rise?",
			},
		},
		{
			Name: "literature",
			Keywords: []string{"literature", "literary", "novel", "poem", "poetry", "poet", "author", "character",
				"shakespeare", "metaphor", "book", "wrote", "plot", "theme", "fiction", "story"},
			Exemplars: []string{
				"Who wrote Pride and Prejudice?",
				"What is the theme of Hamlet?",
				"Analyze the symbolism in The Great Gatsby",
				"Explain the metaphor in this poem",
				"Summarize the plot of the novel Moby Dick",
				"Which characters appear in Shakespeare's tragedies?",
			},
		},
	}
}
