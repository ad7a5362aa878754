package main

import (
	"fmt"
	"math/rand"
	"time"
)

var characteristicNames = []string{"Fit", "Length", "Comfort", "Quality", "Size", "Width"}

var summaries = []string{
	"Exactly what I was looking for",
	"Would buy again",
	"Not worth the price",
	"Runs a little small",
	"Great quality for the money",
	"Arrived damaged",
	"My new favorite",
	"It's fine",
}

var bodies = []string{
	"I have been using this every day for a few weeks and it has held up well.",
	"The material feels cheaper than it looked in the pictures.",
	"Shipping was quick and the fit was true to size.",
	"Returned it after a week, the stitching came apart.",
	"Bought a second one as a gift. Everyone loves it.",
	"Does the job. Nothing special but no complaints either.",
}

var reviewerNames = []string{"jackson11", "mymainstreammother", "bigbrother", "funtime", "shopaholic", "quietcritic", "sam", "lee"}

var responses = []string{
	"Thanks for the feedback! We've passed this on to our team.",
	"Sorry to hear that. Please contact support so we can make it right.",
}

type reviewSeed struct {
	Rating      int
	Date        time.Time
	Summary     string
	Body        string
	Recommend   bool
	Reported    bool
	Name        string
	Email       string
	Response    *string
	Helpfulness int
	Photos      []string
	Values      map[string]int
}

type productSeed struct {
	ProductID       int64
	Characteristics []string
	Reviews         []reviewSeed
}

// generator produces deterministic review data for a given random source.
type generator struct {
	rng        *rand.Rand
	maxReviews int
	now        time.Time
}

func newGenerator(rng *rand.Rand, maxReviews int, now time.Time) *generator {
	if maxReviews < 0 {
		maxReviews = 0
	}
	return &generator{rng: rng, maxReviews: maxReviews, now: now}
}

func (g *generator) product(productID int64) productSeed {
	p := productSeed{ProductID: productID}

	perm := g.rng.Perm(len(characteristicNames))
	for _, i := range perm[:2+g.rng.Intn(3)] {
		p.Characteristics = append(p.Characteristics, characteristicNames[i])
	}

	n := g.rng.Intn(g.maxReviews + 1)
	p.Reviews = make([]reviewSeed, n)
	for i := range p.Reviews {
		p.Reviews[i] = g.review(productID, i, p.Characteristics)
	}
	return p
}

func (g *generator) review(productID int64, idx int, characteristics []string) reviewSeed {
	rating := 1 + g.rng.Intn(5)
	name := reviewerNames[g.rng.Intn(len(reviewerNames))]
	r := reviewSeed{
		Rating:      rating,
		Date:        g.now.Add(-time.Duration(g.rng.Intn(3*365*24)) * time.Hour),
		Summary:     summaries[g.rng.Intn(len(summaries))],
		Body:        bodies[g.rng.Intn(len(bodies))],
		Recommend:   rating >= 3,
		Reported:    g.rng.Intn(50) == 0,
		Name:        name,
		Email:       fmt.Sprintf("%s.%d.%d@example.com", name, productID, idx),
		Helpfulness: g.rng.Intn(30),
		Values:      make(map[string]int, len(characteristics)),
	}
	if g.rng.Intn(5) == 0 {
		resp := responses[g.rng.Intn(len(responses))]
		r.Response = &resp
	}
	photos := g.rng.Intn(3)
	for i := 0; i < photos; i++ {
		r.Photos = append(r.Photos, fmt.Sprintf("https://images.example.com/reviews/%d/%d-%d.jpg", productID, idx, i))
	}
	for _, c := range characteristics {
		r.Values[c] = 1 + g.rng.Intn(5)
	}
	return r
}
