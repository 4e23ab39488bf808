// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashtag

// categories maps a category to its seed tags. Classification is a plain
// lookup; tags outside the seed sets stay uncategorized.
var categories = map[string][]string{
	"technology":    {"coding", "ai", "programming", "tech", "computer"},
	"health":        {"fitness", "wellness", "nutrition", "exercise", "diet"},
	"entertainment": {"movies", "music", "games", "television", "celebrities"},
	"business":      {"finance", "startup", "investing", "marketing", "economy"},
	"education":     {"learning", "school", "university", "teaching", "student"},
	"politics":      {"government", "policy", "election", "democracy", "law"},
	"science":       {"research", "biology", "physics", "chemistry", "astronomy"},
	"sports":        {"football", "basketball", "soccer", "tennis", "baseball"},
}

// tagCategory is the inverted index built once at init.
var tagCategory = func() map[string]string {
	idx := make(map[string]string, 64)
	for cat, tags := range categories {
		idx[cat] = cat
		for _, t := range tags {
			idx[t] = cat
		}
	}
	return idx
}()

// Classify returns the category for a normalized tag, or "" when the tag is
// outside every seed set.
func Classify(tag string) string {
	return tagCategory[tag]
}

// SeedTags returns the seed tag list for a category, with ok=false for
// unknown categories.
func SeedTags(category string) ([]string, bool) {
	tags, ok := categories[category]
	return tags, ok
}

// Categories lists the known category names.
func Categories() []string {
	out := make([]string, 0, len(categories))
	for c := range categories {
		out = append(out, c)
	}
	return out
}
