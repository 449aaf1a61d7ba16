package utils

import (
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func TestClamp(t *testing.T) {
	test.That(t, Clamp(-3, 0, 10), test.ShouldEqual, 0)
	test.That(t, Clamp(3, 0, 10), test.ShouldEqual, 3)
	test.That(t, Clamp(13, 0, 10), test.ShouldEqual, 10)
}

func TestSampleDistinctInts(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		s := SampleDistinctInts(4, 6, r)
		test.That(t, s, test.ShouldHaveLength, 4)
		seen := map[int]bool{}
		for _, v := range s {
			test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, 0)
			test.That(t, v, test.ShouldBeLessThan, 6)
			test.That(t, seen[v], test.ShouldBeFalse)
			seen[v] = true
		}
	}
	test.That(t, SampleDistinctInts(4, 3, r), test.ShouldBeNil)
}
