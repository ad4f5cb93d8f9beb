package rewrite

import "strings"

// scriptMarker identifies an already-instrumented document; its presence
// makes the whole rewrite pass idempotent.
const scriptMarker = `data-proxywarp-injected="true"`

// interceptorTemplate is the client-side navigation interceptor. It is
// delivered inline and parametrised by literal substitution of the token,
// base domain, and upstream domain. All three values are validated
// lowercase-alphanumeric shapes, so no escaping is needed inside the string
// literals.
const interceptorTemplate = `<script data-proxywarp-injected="true">
(function () {
  "use strict";
  var PROXY_ORIGIN = "https://__TOKEN__.__BASE_DOMAIN__";
  var TARGET_DOMAIN = "__TARGET_DOMAIN__";
  var BASE_DOMAIN = "__BASE_DOMAIN__";

  function isExternal(url) {
    if (typeof url !== "string" || !/^https?:\/\//i.test(url)) return false;
    try {
      var host = new URL(url).hostname.toLowerCase();
      return host !== TARGET_DOMAIN && host !== "www." + TARGET_DOMAIN;
    } catch (e) {
      return false;
    }
  }

  function proxied(url) {
    if (typeof url !== "string" || url === "") return url;
    if (url.indexOf(BASE_DOMAIN) !== -1) return url;
    if (/^(#|javascript:|mailto:|tel:)/i.test(url)) return url;
    if (/^https?:\/\//i.test(url)) {
      if (isExternal(url)) return url;
      try {
        var u = new URL(url);
        return PROXY_ORIGIN + u.pathname + u.search + u.hash;
      } catch (e) {
        return url;
      }
    }
    if (url.charAt(0) === "/") return PROXY_ORIGIN + url;
    return url;
  }

  function rewriteElement(el) {
    if (!el || !el.getAttribute) return;
    if (el.tagName === "A") {
      var href = el.getAttribute("href");
      if (href && href.indexOf(BASE_DOMAIN) === -1 && !isExternal(href)) {
        el.setAttribute("href", proxied(href));
      }
    } else if (el.tagName === "FORM") {
      var action = el.getAttribute("action");
      if (action && action.indexOf(BASE_DOMAIN) === -1 && !isExternal(action)) {
        el.setAttribute("action", proxied(action));
      }
    }
  }

  function interceptHistory() {
    var push = history.pushState;
    history.pushState = function (state, title, url) {
      if (url !== undefined && url !== null) url = proxied(String(url));
      return push.call(this, state, title, url);
    };
    var replace = history.replaceState;
    history.replaceState = function (state, title, url) {
      if (url !== undefined && url !== null) url = proxied(String(url));
      return replace.call(this, state, title, url);
    };
  }

  function interceptLocation() {
    try {
      var desc = Object.getOwnPropertyDescriptor(Location.prototype, "href");
      if (desc && desc.set) {
        Object.defineProperty(Location.prototype, "href", {
          get: desc.get,
          set: function (value) { desc.set.call(this, proxied(String(value))); },
          configurable: true
        });
      }
      var assign = Location.prototype.assign;
      Location.prototype.assign = function (url) {
        return assign.call(this, proxied(String(url)));
      };
      var rep = Location.prototype.replace;
      Location.prototype.replace = function (url) {
        return rep.call(this, proxied(String(url)));
      };
    } catch (e) {
      /* some engines refuse to redefine Location; navigation still goes
         through the click and fetch interceptors */
    }
  }

  function interceptClicks() {
    document.addEventListener("click", function (ev) {
      var el = ev.target;
      while (el && el.tagName !== "A") el = el.parentElement;
      if (!el) return;
      var href = el.getAttribute("href");
      if (!href || /^(#|javascript:|mailto:|tel:)/i.test(href)) return;
      if (href.indexOf(BASE_DOMAIN) !== -1) return;
      if (isExternal(href)) return;
      ev.preventDefault();
      window.location.href = proxied(href);
    }, true);
  }

  function observeMutations() {
    var observer = new MutationObserver(function (mutations) {
      for (var i = 0; i < mutations.length; i++) {
        var added = mutations[i].addedNodes;
        for (var j = 0; j < added.length; j++) {
          var node = added[j];
          if (node.nodeType !== 1) continue;
          rewriteElement(node);
          if (node.querySelectorAll) {
            var nested = node.querySelectorAll("a[href], form[action]");
            for (var k = 0; k < nested.length; k++) rewriteElement(nested[k]);
          }
        }
      }
    });
    observer.observe(document.documentElement, { childList: true, subtree: true });
  }

  function interceptFetch() {
    if (window.fetch) {
      var origFetch = window.fetch;
      window.fetch = function (input, init) {
        if (typeof input === "string") {
          input = proxied(input);
        } else if (input instanceof Request) {
          input = new Request(proxied(input.url), input);
        }
        return origFetch.call(this, input, init);
      };
    }
    var origOpen = XMLHttpRequest.prototype.open;
    XMLHttpRequest.prototype.open = function (method, url) {
      var args = Array.prototype.slice.call(arguments);
      if (typeof url === "string") args[1] = proxied(url);
      return origOpen.apply(this, args);
    };
  }

  function init() {
    interceptHistory();
    interceptLocation();
    interceptClicks();
    observeMutations();
    interceptFetch();
  }

  if (document.readyState === "loading") {
    document.addEventListener("DOMContentLoaded", init);
  } else {
    init();
  }
})();
</script>`

// InterceptorScript renders the client interceptor for one proxied origin.
func (r *Rewriter) InterceptorScript(token, domain string) string {
	return strings.NewReplacer(
		"__TOKEN__", token,
		"__BASE_DOMAIN__", r.baseDomain,
		"__TARGET_DOMAIN__", strings.ToLower(domain),
	).Replace(interceptorTemplate)
}
