// Package platform hosts the provider registry and shared provider helpers.
package platform

// ExtractResultURLs pulls result file URLs out of a decoded provider
// response. Providers disagree on where results live, so the shapes are
// tried in order:
//
//  1. results: ["url", ...]
//  2. results: [{"url": "..."}, ...]
//  3. data.fileUrl
//  4. result.fileUrl
//
// Returns nil when no shape matches.
func ExtractResultURLs(payload map[string]any) []string {
	if payload == nil {
		return nil
	}
	if arr, ok := payload["results"].([]any); ok {
		var urls []string
		for _, e := range arr {
			switch v := e.(type) {
			case string:
				if v != "" {
					urls = append(urls, v)
				}
			case map[string]any:
				if u, ok := v["url"].(string); ok && u != "" {
					urls = append(urls, u)
				}
			}
		}
		if len(urls) > 0 {
			return urls
		}
	}
	if u := nestedString(payload, "data", "fileUrl"); u != "" {
		return []string{u}
	}
	if u := nestedString(payload, "result", "fileUrl"); u != "" {
		return []string{u}
	}
	return nil
}

func nestedString(payload map[string]any, outer, inner string) string {
	obj, ok := payload[outer].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[inner].(string)
	return s
}
