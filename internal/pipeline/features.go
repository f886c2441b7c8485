package pipeline

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Feature names. The assistant tool registry and the HTTP surface both key
// on these.
const (
	FeatureCaptions      = "captions"
	FeatureThumbnail     = "thumbnail"
	FeatureThumbnailEdit = "thumbnail-edit"
	FeatureLogo          = "logo"
	FeatureMetadata      = "metadata"
	FeatureScript        = "script"
	FeatureReelScript    = "reel-script"
	FeaturePhotoCaptions = "photo-captions"
	FeatureBrandName     = "brand-name"
)

// Persistence tables, matching the artifact models' TableName bindings.
const (
	TableThumbnails = "thumbnail_assets"
	TableMetadata   = "metadata_records"
)

const metadataSystemPrompt = `You are a top-tier YouTube SEO and content strategist. Generate a highly engaging, algorithm-optimized YouTube video description AND a set of powerful hashtags based on the user's prompt about their video.

Description rules: start with a compelling hook (the first two lines are visible before "Show More"), summarize what the viewer will learn, use short paragraphs, add a natural call-to-action, weave keywords in naturally, keep it between 150-300 words, and keep hashtags out of the description.

Hashtag rules: 15-20 hashtags mixing broad and niche tags, always 2-3 with the video's core topic, all lowercase, no spaces, most relevant first.

Output format (strict JSON): {"description": "...", "hashtags": ["#tag1", "#tag2"]}
Return ONLY the JSON object. No markdown, no code fences, no explanation.`

const thumbnailSystemPrompt = `You are a YouTube thumbnail design expert specializing in high-CTR visuals. Every thumbnail must follow these rules: one focal point dominating 40-60% of frame; faces with strong emotion and direct gaze; bold text of 4 words max, all caps, white or neon with thick black outline; bright subject on dark or blurred background; at most one red or yellow arrow or circle pointing at the mystery element; text left, face or object right, eyes in the upper third, 16:9 and readable at mobile size; blurred dark gradient background with no clutter; a curiosity gap that promises transformation; neon accents on a dark base. Generate an ultra-detailed, photorealistic, cinematic thumbnail.

User's thumbnail request:
`

const logoSystemPrompt = `You are a professional logo designer. Create a clean, scalable brand logo on a plain background: a single strong mark plus the brand name in a matching typeface, no photographic detail, no clutter, suitable for use as an avatar at small sizes. Match the requested style and industry conventions.

Logo request:
`

const youtubeScriptSystemPrompt = `You are an expert YouTube scriptwriter who has written scripts for channels with millions of subscribers. Write a complete, ready-to-record video script for the user's topic.

Structure: a bold, curiosity-driven hook in the first 30 seconds (never "Hey guys, welcome back"); a short intro stating what the viewer will gain; main content broken into clear sections with retention hooks every few minutes; a strong but natural call-to-action outro.

Style: conversational and energetic, short sentences for teleprompter reading, [B-ROLL] and [SCREEN RECORDING] markers where visuals change, [PAUSE] markers for effect, no filler.

Return ONLY the script text. No JSON, no code fences, no meta-commentary.`

const reelScriptSystemPrompt = `You are a viral Instagram Reels scriptwriter. Craft short, punchy scripts that hook viewers in the first second and hold them to the end.

Rules: a scroll-stopping hook in the first 1-2 seconds; value delivered fast with no fluff; a clear call-to-action at the end. Use [ON SCREEN TEXT], [VISUAL], and [VOICEOVER] or [SPEAKING TO CAMERA] markers, write the timing for each section, and keep the energy high. Adapt to the requested format (hook-story-cta, tutorial, listicle, before-after, day-in-life, trending).

Return ONLY the script text. No JSON, no code fences, no meta-commentary.`

const photoCaptionsSystemPrompt = `You are a top Instagram caption writer. Analyze the uploaded photo and generate 5 creative, engaging Instagram captions matching the requested mood.

Rules: each caption unique in style and length, emojis used naturally, 3-5 relevant hashtags at the end of each caption, a scroll-stopping first line, authentic voice, under 2200 characters each.

Output format (strict JSON): {"captions": ["...", "...", "...", "...", "..."]}
Return ONLY the JSON object. No markdown, no code fences, no explanation.`

const brandNameSystemPrompt = `You are a brand naming expert and creative strategist. Generate exactly 8 unique, memorable brand name suggestions based on the user's description, industry, and preferred style.

Rules: names of 1-3 words, easy to pronounce, each with a catchy tagline under 10 words, a mix of portmanteaus, abstract words, descriptive names, and invented words, no generic naming patterns.

Output format (strict JSON): {"suggestions": [{"name": "BrandName", "tagline": "...", "available": true}]}
Set "available" to true for all suggestions. Return ONLY the JSON object. No markdown, no code fences, no explanation.`

// Features returns the full set of generation configurations, keyed by name.
func Features() map[string]Feature {
	features := []Feature{
		captionsFeature(),
		thumbnailFeature(),
		thumbnailEditFeature(),
		logoFeature(),
		metadataFeature(),
		scriptFeature(),
		reelScriptFeature(),
		photoCaptionsFeature(),
		brandNameFeature(),
	}
	byName := make(map[string]Feature, len(features))
	for _, feature := range features {
		byName[feature.Name] = feature
	}
	return byName
}

func captionsFeature() Feature {
	return Feature{
		Name:        FeatureCaptions,
		Description: "Upload a video and generate SRT captions via transcription.",
		Required:    []string{"file:video"},
		BuildPrompt: func(in Input) (Prompt, error) {
			video, _ := in.FileNamed("video")
			return Prompt{Media: video.Bytes, FileName: video.Name}, nil
		},
		Op:    OpTranscribe,
		Shape: FreeText(1),
	}
}

func thumbnailFeature() Feature {
	return Feature{
		Name:        FeatureThumbnail,
		Description: "Generate an eye-catching YouTube thumbnail from a text prompt.",
		Required:    []string{"prompt"},
		BuildPrompt: func(in Input) (Prompt, error) {
			return Prompt{ImagePrompt: thumbnailSystemPrompt + in.Field("prompt", "")}, nil
		},
		Op:    OpImageCreate,
		Shape: BinaryImage(),
		Persist: &PersistConfig{
			Table: TableThumbnails,
			Mime:  "image/png",
			MapFields: func(Normalized) map[string]any {
				return map[string]any{"kind": "thumbnail"}
			},
		},
	}
}

func thumbnailEditFeature() Feature {
	return Feature{
		Name:        FeatureThumbnailEdit,
		Description: "Edit a previously generated thumbnail with a new instruction.",
		Required:    []string{"prompt", "file:image"},
		BuildPrompt: func(in Input) (Prompt, error) {
			image, _ := in.FileNamed("image")
			return Prompt{
				ImagePrompt: thumbnailSystemPrompt + in.Field("prompt", ""),
				BaseImage:   image.Bytes,
			}, nil
		},
		Op:    OpImageEdit,
		Shape: BinaryImage(),
		Persist: &PersistConfig{
			Table: TableThumbnails,
			Mime:  "image/png",
			MapFields: func(Normalized) map[string]any {
				return map[string]any{"kind": "thumbnail"}
			},
		},
	}
}

func logoFeature() Feature {
	return Feature{
		Name:        FeatureLogo,
		Description: "Design a professional brand logo.",
		Required:    []string{"brandName"},
		Defaults:    map[string]string{"industry": "technology", "style": "minimal"},
		BuildPrompt: func(in Input) (Prompt, error) {
			request := fmt.Sprintf("Brand name: %s\nIndustry: %s\nStyle: %s",
				in.Field("brandName", ""),
				in.Field("industry", "technology"),
				in.Field("style", "minimal"))
			return Prompt{ImagePrompt: logoSystemPrompt + request}, nil
		},
		Op:    OpImageCreate,
		Shape: BinaryImage(),
		Persist: &PersistConfig{
			Table: TableThumbnails,
			Mime:  "image/png",
			MapFields: func(Normalized) map[string]any {
				return map[string]any{"kind": "logo"}
			},
		},
	}
}

func metadataFeature() Feature {
	return Feature{
		Name:        FeatureMetadata,
		Description: "Generate an SEO-optimized video description and hashtags.",
		Required:    []string{"prompt"},
		BuildPrompt: func(in Input) (Prompt, error) {
			return Prompt{
				System:      metadataSystemPrompt,
				User:        in.Field("prompt", ""),
				ForceJSON:   true,
				Temperature: 0.8,
				MaxTokens:   1024,
			}, nil
		},
		Op:    OpChat,
		Shape: StrictJSONObject("description", "hashtags"),
		Persist: &PersistConfig{
			Table:    TableMetadata,
			AutoSave: true,
			MapFields: func(n Normalized) map[string]any {
				return map[string]any{
					"description": n.Object["description"],
					"hashtags":    n.Object["hashtags"],
				}
			},
		},
	}
}

func scriptFeature() Feature {
	return Feature{
		Name:        FeatureScript,
		Description: "Write a full YouTube video script.",
		Required:    []string{"topic"},
		Defaults:    map[string]string{"duration": "10", "tone": "educational"},
		BuildPrompt: func(in Input) (Prompt, error) {
			user := fmt.Sprintf("Topic: %s\nTarget duration: %s minutes\nTone: %s\n",
				in.Field("topic", ""),
				in.Field("duration", "10"),
				in.Field("tone", "educational"))
			return Prompt{
				System:      youtubeScriptSystemPrompt,
				User:        user,
				Temperature: 0.85,
				MaxTokens:   4096,
			}, nil
		},
		Op:    OpChat,
		Shape: FreeText(1),
	}
}

func reelScriptFeature() Feature {
	return Feature{
		Name:        FeatureReelScript,
		Description: "Write a short-form Instagram Reel script.",
		Required:    []string{"topic"},
		Defaults:    map[string]string{"duration": "30", "format": "hook-story-cta"},
		BuildPrompt: func(in Input) (Prompt, error) {
			user := fmt.Sprintf("Topic: %s\nTarget duration: %s seconds\nScript format: %s\n",
				in.Field("topic", ""),
				in.Field("duration", "30"),
				in.Field("format", "hook-story-cta"))
			return Prompt{
				System:      reelScriptSystemPrompt,
				User:        user,
				Temperature: 0.85,
				MaxTokens:   4096,
			}, nil
		},
		Op:    OpChat,
		Shape: FreeText(1),
	}
}

func photoCaptionsFeature() Feature {
	return Feature{
		Name:        FeaturePhotoCaptions,
		Description: "Generate Instagram captions for an uploaded photo.",
		Required:    []string{"file:photo"},
		Defaults:    map[string]string{"mood": "casual"},
		BuildPrompt: func(in Input) (Prompt, error) {
			photo, _ := in.FileNamed("photo")
			mime := photo.Mime
			if mime == "" {
				mime = "image/jpeg"
			}
			dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(photo.Bytes))
			mood := in.Field("mood", "casual")
			return Prompt{
				System: photoCaptionsSystemPrompt,
				User: fmt.Sprintf("Generate 5 Instagram captions for this photo. Mood/style: %s. "+
					"Analyze the photo content and create captions that match what is shown.", mood),
				Images:      []ImageInput{{URL: dataURL}},
				ForceJSON:   true,
				Temperature: 0.9,
				MaxTokens:   2048,
			}, nil
		},
		Op:    OpChat,
		Shape: StringArray("captions", 1),
	}
}

func brandNameFeature() Feature {
	return Feature{
		Name:        FeatureBrandName,
		Description: "Generate brand name suggestions with taglines.",
		Required:    []string{"keywords"},
		Defaults:    map[string]string{"industry": "general", "nameStyle": "modern"},
		BuildPrompt: func(in Input) (Prompt, error) {
			var user strings.Builder
			fmt.Fprintf(&user, "Keywords/Description: %s\n", in.Field("keywords", ""))
			fmt.Fprintf(&user, "Industry: %s\n", in.Field("industry", "general"))
			fmt.Fprintf(&user, "Name Style: %s\n\n", in.Field("nameStyle", "modern"))
			user.WriteString("Generate 8 unique brand name suggestions with taglines.")
			return Prompt{
				System:      brandNameSystemPrompt,
				User:        user.String(),
				ForceJSON:   true,
				Temperature: 0.95,
				MaxTokens:   1024,
			}, nil
		},
		Op:    OpChat,
		Shape: StrictJSONObject("suggestions"),
	}
}
