package reply

import (
	"strings"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

var (
	inception = chat.MediaItem{
		ID:          "1",
		Title:       "Inception",
		Poster:      "https://images.unsplash.com/photo-1489599038532-1e9d2f3bb1f2?w=300&h=450&fit=crop",
		Genre:       chat.Genres{"Sci-Fi", "Thriller"},
		Synopsis:    "A skilled thief who enters people's dreams to steal secrets gets a chance to have his criminal record erased.",
		Rating:      8.8,
		Duration:    "148 min",
		Director:    "Christopher Nolan",
		ReleaseYear: 2010,
	}
	trending = []chat.MediaItem{
		{
			ID:          "1",
			Title:       "The Matrix",
			Poster:      "https://images.unsplash.com/photo-1489599038532-1e9d2f3bb1f2?w=300&h=450&fit=crop",
			Genre:       chat.Genres{"Action", "Sci-Fi"},
			Synopsis:    "A computer hacker learns about the true nature of reality.",
			Rating:      8.7,
			Duration:    "136 min",
			Director:    "The Wachowskis",
			ReleaseYear: 1999,
		},
		{
			ID:          "2",
			Title:       "Dune",
			Poster:      "https://images.unsplash.com/photo-1440404653325-ab127d49abc1?w=300&h=450&fit=crop",
			Genre:       chat.Genres{"Adventure", "Drama"},
			Synopsis:    "A noble family becomes embroiled in a war for control over the galaxy.",
			Rating:      8.0,
			Duration:    "155 min",
			Director:    "Denis Villeneuve",
			ReleaseYear: 2021,
		},
		{
			ID:          "3",
			Title:       "Interstellar",
			Poster:      "https://images.unsplash.com/photo-1446776877081-d282a0f896e2?w=300&h=450&fit=crop",
			Genre:       chat.Genres{"Drama", "Sci-Fi"},
			Synopsis:    "A team of explorers travel through a wormhole in space.",
			Rating:      8.6,
			Duration:    "169 min",
			Director:    "Christopher Nolan",
			ReleaseYear: 2014,
		},
	}
)

// Fallback answers message from a small built-in catalogue. It is used when
// the backend cannot be reached, and by the mock backend.
func Fallback(message string) Response {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "recommend") || strings.Contains(lower, "movie"):
		return Response{Reply: Reply{
			Message: "Based on your preferences, I recommend checking out 'Inception'. It's a mind-bending sci-fi thriller that I think you'll love!",
			Data: &Data{
				Movies:               []chat.MediaItem{inception},
				RecommendationReason: "This movie perfectly combines complex storytelling with stunning visuals, making it perfect for viewers who enjoy thought-provoking cinema.",
				Suggestions: []chat.Suggestion{
					{Icon: "🎬", Text: "Similar sci-fi movies", Query: "Show me more sci-fi movies like Inception"},
					{Icon: "⭐", Text: "Christopher Nolan films", Query: "What other Christopher Nolan movies do you recommend?"},
				},
			},
		}}

	case strings.Contains(lower, "trending") || strings.Contains(lower, "popular"):
		return Response{Reply: Reply{
			Message: "Here are the most trending movies and shows right now:",
			Data: &Data{
				Movies: append([]chat.MediaItem(nil), trending...),
				Suggestions: []chat.Suggestion{
					{Icon: "📺", Text: "Trending TV shows", Query: "What TV shows are trending?"},
					{Icon: "🔥", Text: "This week's hot picks", Query: "What are this week's most popular movies?"},
				},
			},
		}}
	}

	return Response{Reply: Reply{
		Message: "I'm here to help you discover amazing movies and TV shows! You can ask me for recommendations, trending content, or anything about entertainment.",
		Data: &Data{
			Suggestions: []chat.Suggestion{
				{Icon: "🎬", Text: "Recommend a movie", Query: "Recommend a movie for me"},
				{Icon: "📺", Text: "Suggest a TV show", Query: "Suggest a TV show for me"},
				{Icon: "🔥", Text: "What's trending?", Query: "What's trending right now?"},
			},
		},
	}}
}
