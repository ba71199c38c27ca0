package shelltune

// unknownToken marks a byte with no vocabulary match. Callers substitute
// their own fallback id.
const unknownToken int32 = -1

type trieNode struct {
	children map[byte]*trieNode
	token    int32
	terminal bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode), token: unknownToken}
}

// trie supports greedy longest-match tokenization over a byte vocabulary.
type trie struct {
	root *trieNode
}

func newTrie(vocab []string) *trie {
	tr := &trie{root: newTrieNode()}
	for id, word := range vocab {
		node := tr.root
		for i := 0; i < len(word); i++ {
			child, ok := node.children[word[i]]
			if !ok {
				child = newTrieNode()
				node.children[word[i]] = child
			}
			node = child
		}
		node.terminal = true
		node.token = int32(id)
	}
	return tr
}

// Tokenize splits input into the longest vocabulary matches, left to right.
// A byte that starts no match becomes its own single-byte split with the
// unknown token id.
func (tr *trie) Tokenize(input []byte) ([][]byte, []int32) {
	var split [][]byte
	var tokens []int32
	i := 0
	for i < len(input) {
		node := tr.root
		matchEnd, matchToken := -1, unknownToken
		for j := i; j < len(input); j++ {
			child, ok := node.children[input[j]]
			if !ok {
				break
			}
			node = child
			if node.terminal {
				matchEnd, matchToken = j+1, node.token
			}
		}
		if matchEnd < 0 {
			split = append(split, input[i:i+1])
			tokens = append(tokens, unknownToken)
			i++
			continue
		}
		split = append(split, input[i:matchEnd])
		tokens = append(tokens, matchToken)
		i = matchEnd
	}
	return split, tokens
}
