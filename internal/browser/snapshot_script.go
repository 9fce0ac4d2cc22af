package browser

// getSnapshotScript returns the in-page script that captures the raw
// node tree: tag, text, attributes, geometry and the computed-style
// flags the interactivity filter needs. Filtering and selector
// generation happen in Go, so the script stays a dumb recorder.
func getSnapshotScript() string {
	return `(() => {
		const MAX_DEPTH = 32;
		const MAX_TEXT = 200;

		const build = (el, depth) => {
			const rect = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);

			const attrs = {};
			for (const attr of el.attributes) {
				attrs[attr.name] = attr.value;
			}

			let text = el.innerText || el.textContent || '';
			if (el.value && typeof el.value === 'string') {
				text = el.value;
			}
			text = text.substring(0, MAX_TEXT);

			const node = {
				tag: el.tagName.toLowerCase(),
				text: text,
				attributes: attrs,
				box: {
					x: rect.left,
					y: rect.top,
					width: rect.width,
					height: rect.height
				},
				display: style.display,
				visibility: style.visibility,
				opacity: parseFloat(style.opacity),
				clickHandler: el.onclick !== null || el.hasAttribute('onclick'),
				pointerCursor: style.cursor === 'pointer',
				children: []
			};

			if (depth < MAX_DEPTH) {
				for (const child of el.children) {
					node.children.push(build(child, depth + 1));
				}
			}

			return node;
		};

		return build(document.documentElement, 0);
	})()`
}

// getStructureScript returns the script feeding the page fingerprint:
// current URL plus a cheap structural signature (element count and the
// top-level tag sequence).
func getStructureScript() string {
	return `(() => {
		const topLevel = [];
		for (const el of document.body ? document.body.children : []) {
			topLevel.push(el.tagName.toLowerCase() + (el.id ? '#' + el.id : ''));
		}

		return {
			url: window.location.href,
			nodeCount: document.querySelectorAll('*').length,
			topLevel: topLevel.join(',')
		};
	})()`
}
