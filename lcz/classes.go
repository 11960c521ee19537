package lcz

// IsWarm reports whether class is a warm urban class: 1 to 10 and 105.
func IsWarm(class int) bool {
	return (class >= 1 && class <= 10) || class == 105
}

// IsCool reports whether class is a cool natural class: 101 to 104, 106 and 107.
func IsCool(class int) bool {
	switch class {
	case 101, 102, 103, 104, 106, 107:
		return true
	}
	return false
}

// Weight remaps class with weights, classes missing from weights keep their own
// value. Between two classes of equal count the higher weight wins.
func Weight(weights map[int]int, class int) int {
	if w, ok := weights[class]; ok {
		return w
	}
	return class
}
